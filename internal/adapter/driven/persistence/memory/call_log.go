package memory

import (
	"context"
	"sync"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
)

// CallLog keeps call history in memory. Used in tests and by clients
// that do not persist history.
type CallLog struct {
	mu   sync.Mutex
	recs []domain.CallRecord
}

func NewCallLog() *CallLog {
	return &CallLog{}
}

func (l *CallLog) Save(_ context.Context, rec domain.CallRecord) error {
	l.mu.Lock()
	l.recs = append(l.recs, rec)
	l.mu.Unlock()
	return nil
}

func (l *CallLog) Recent(_ context.Context, limit int) ([]domain.CallRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.recs) {
		limit = len(l.recs)
	}
	// Newest first.
	out := make([]domain.CallRecord, 0, limit)
	for i := len(l.recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.recs[i])
	}
	return out, nil
}
