package storage

import (
	"context"
	"database/sql"
	"time"
)

// AppendEvent inserts one captured event and enforces the retention
// cap, deleting oldest rows beyond MaxEvents. It returns the assigned
// identifier.
func (s *Store) AppendEvent(ctx context.Context, e CapturedEvent) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events(amount, time, text, timestamp, forwarded, package)
		 VALUES(?,?,?,?,?,?)`,
		e.Amount, e.Time, e.Text, e.Timestamp, e.Forwarded, e.Package,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return id, err
	}
	if count > MaxEvents {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM events WHERE id IN
			   (SELECT id FROM events ORDER BY timestamp ASC, id ASC LIMIT ?)`,
			count-MaxEvents,
		)
		if err != nil {
			return id, err
		}
	}
	return id, nil
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]CapturedEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, amount, time, text, timestamp, forwarded, package
		   FROM events ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsByRange returns events with startMs <= timestamp <= endMs,
// newest first.
func (s *Store) EventsByRange(ctx context.Context, startMs, endMs int64) ([]CapturedEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, amount, time, text, timestamp, forwarded, package
		   FROM events WHERE timestamp BETWEEN ? AND ?
		  ORDER BY timestamp DESC, id DESC`, startMs, endMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// DeleteEventsBefore removes events captured before cutoff and returns
// how many rows were deleted. Used by the optional retention sweep.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanEvents(rows *sql.Rows) ([]CapturedEvent, error) {
	var out []CapturedEvent
	for rows.Next() {
		var e CapturedEvent
		if err := rows.Scan(&e.ID, &e.Amount, &e.Time, &e.Text, &e.Timestamp, &e.Forwarded, &e.Package); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
