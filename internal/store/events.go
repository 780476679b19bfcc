package store

import (
	"context"
	"database/sql"
	"time"

	"pkt.systems/spacedock/schema"
)

// AppendEvent inserts a transcript event keyed by (session, sequence).
// Re-inserting an existing key is a no-op, which makes at-least-once
// redelivery from the agent stream safe. Reports whether a row was written.
func (s *DB) AppendEvent(ctx context.Context, sessionID schema.SessionID, seq int64, payload []byte) (bool, error) {
	if seq <= 0 {
		return false, schema.ErrInvalidSequence
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO session_events (session_id, seq, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, string(sessionID), seq, payload, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EventsSince reads events with sequence > offset in ascending order,
// optionally capped at limit.
func (s *DB) EventsSince(ctx context.Context, sessionID schema.SessionID, offset int64, limit int) ([]schema.AgentEvent, error) {
	query := `SELECT seq, payload FROM session_events WHERE session_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{string(sessionID), offset}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []schema.AgentEvent
	for rows.Next() {
		var event schema.AgentEvent
		var payload []byte
		if err := rows.Scan(&event.Sequence, &payload); err != nil {
			return nil, err
		}
		event.Payload = payload
		events = append(events, event)
	}
	return events, rows.Err()
}

// LastSequence reports the highest recorded sequence for a session, 0 when
// no events exist. Used to resume the agent stream at the right offset.
func (s *DB) LastSequence(ctx context.Context, sessionID schema.SessionID) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM session_events WHERE session_id = ?
	`, string(sessionID)).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
