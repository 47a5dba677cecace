package port

import (
	"context"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
)

type CallLogRepository interface {
	Save(ctx context.Context, rec domain.CallRecord) error
	Recent(ctx context.Context, limit int) ([]domain.CallRecord, error)
}
