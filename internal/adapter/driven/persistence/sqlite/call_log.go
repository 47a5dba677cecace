package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id    TEXT NOT NULL,
	peer_id    TEXT NOT NULL,
	peer_name  TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	direction  TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_log_started ON call_log(started_at DESC);
`

// CallLog is a sqlite-backed call history, implementing
// port.CallLogRepository.
type CallLog struct {
	db *sql.DB
}

// Open opens or creates the call log database at path.
func Open(path string) (*CallLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure call log: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create call log schema: %w", err)
	}
	return &CallLog{db: db}, nil
}

func (l *CallLog) Close() error {
	return l.db.Close()
}

func (l *CallLog) Save(ctx context.Context, rec domain.CallRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO call_log (room_id, peer_id, peer_name, kind, direction, outcome, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RoomID.String(),
		rec.Peer.ID.String(),
		rec.Peer.DisplayName,
		string(rec.Kind),
		string(rec.Direction),
		string(rec.Outcome),
		rec.StartedAt.UnixMilli(),
		rec.EndedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save call record: %w", err)
	}
	return nil
}

func (l *CallLog) Recent(ctx context.Context, limit int) ([]domain.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT room_id, peer_id, peer_name, kind, direction, outcome, started_at, ended_at
		FROM call_log ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query call log: %w", err)
	}
	defer rows.Close()

	var out []domain.CallRecord
	for rows.Next() {
		var (
			roomID, peerID, peerName string
			kind, direction, outcome string
			startedAt, endedAt       int64
		)
		if err := rows.Scan(&roomID, &peerID, &peerName, &kind, &direction, &outcome, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		rec := domain.CallRecord{
			RoomID:    domain.RoomID(roomID),
			Peer:      domain.Peer{ID: domain.UserID(peerID), DisplayName: peerName},
			Kind:      domain.CallKind(kind),
			Direction: domain.Direction(direction),
			Outcome:   domain.EndReason(outcome),
			StartedAt: time.UnixMilli(startedAt),
			EndedAt:   time.UnixMilli(endedAt),
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
