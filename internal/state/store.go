package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the session ledger: when connections opened and closed. It never
// holds message content.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type SessionRecord struct {
	ID            string     `json:"id"`
	RemoteAddr    string     `json:"remote_addr,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	EstablishedAt time.Time  `json:"established_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

func (r SessionRecord) Open() bool { return r.ClosedAt == nil }

func (s *Store) SessionOpened(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, remote_addr, user_agent, established_at) VALUES (?, ?, ?, ?)`,
		rec.ID, nullString(rec.RemoteAddr), nullString(rec.UserAgent), rec.EstablishedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) SessionClosed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET closed_at = ? WHERE id = ? AND closed_at IS NULL`,
		at.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("close session %s: not open", id)
	}
	return nil
}

// CloseDangling marks every open row closed. Rows left open by a previous
// process that did not shut down cleanly would otherwise stay open forever.
func (s *Store) CloseDangling(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET closed_at = ? WHERE closed_at IS NULL`, at.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("close dangling sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, remote_addr, user_agent, established_at, closed_at FROM sessions ORDER BY established_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionRecord{}
	for rows.Next() {
		var rec SessionRecord
		var remoteAddr, userAgent, closedAtStr sql.NullString
		var establishedAtStr string
		if err := rows.Scan(&rec.ID, &remoteAddr, &userAgent, &establishedAtStr, &closedAtStr); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.RemoteAddr = remoteAddr.String
		rec.UserAgent = userAgent.String
		if rec.EstablishedAt, err = time.Parse(timeLayout, establishedAtStr); err != nil {
			return nil, fmt.Errorf("parse established_at: %w", err)
		}
		if closedAtStr.Valid {
			closedAt, err := time.Parse(timeLayout, closedAtStr.String)
			if err != nil {
				return nil, fmt.Errorf("parse closed_at: %w", err)
			}
			rec.ClosedAt = &closedAt
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *Store) CountOpen(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE closed_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count open sessions: %w", err)
	}
	return n, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
