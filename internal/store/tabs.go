package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pkt.systems/spacedock/schema"
)

// SessionRow is a session's durable state.
type SessionRow struct {
	ID        schema.SessionID
	Status    schema.SessionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TerminalRow is a terminal's durable state.
type TerminalRow struct {
	ID         schema.TerminalID
	PtyID      string
	Cols       int
	Rows       int
	Scrollback []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateSession inserts the session row and its tab, if absent. Reports
// whether the session was created.
func (s *DB) CreateSession(ctx context.Context, id schema.SessionID, title string) (bool, error) {
	now := time.Now().UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, string(id), string(schema.SessionWaiting), now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO tabs (id, kind, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(schema.SessionTabID(id)), string(schema.TabKindSession), title, now, now); err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

// GetSession reads a session row.
func (s *DB) GetSession(ctx context.Context, id schema.SessionID) (SessionRow, error) {
	var row SessionRow
	var status string
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, created_at, updated_at FROM sessions WHERE id = ?
	`, string(id)).Scan(&row.ID, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRow{}, schema.ErrSessionNotFound
	}
	if err != nil {
		return SessionRow{}, err
	}
	row.Status = schema.SessionStatus(status)
	row.CreatedAt = time.UnixMilli(created)
	row.UpdatedAt = time.UnixMilli(updated)
	return row, nil
}

// SetSessionStatus updates a session's status and touches its tab.
func (s *DB) SetSessionStatus(ctx context.Context, id schema.SessionID, status schema.SessionStatus) error {
	now := time.Now().UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), now, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.ErrSessionNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE tabs SET updated_at = ? WHERE id = ?
	`, now, string(schema.SessionTabID(id))); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateTerminal inserts the terminal row and its tab, if absent. Reports
// whether the terminal was created.
func (s *DB) CreateTerminal(ctx context.Context, id schema.TerminalID, title string, cols, rows int) (bool, error) {
	now := time.Now().UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO terminals (id, cols, rows, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(id), cols, rows, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO tabs (id, kind, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(schema.TerminalTabID(id)), string(schema.TabKindTerminal), title, now, now); err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

// GetTerminal reads a terminal row.
func (s *DB) GetTerminal(ctx context.Context, id schema.TerminalID) (TerminalRow, error) {
	var row TerminalRow
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, pty_id, cols, rows, scrollback, created_at, updated_at
		FROM terminals WHERE id = ?
	`, string(id)).Scan(&row.ID, &row.PtyID, &row.Cols, &row.Rows, &row.Scrollback, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return TerminalRow{}, schema.ErrTerminalNotFound
	}
	if err != nil {
		return TerminalRow{}, err
	}
	row.CreatedAt = time.UnixMilli(created)
	row.UpdatedAt = time.UnixMilli(updated)
	return row, nil
}

// SetTerminalPty records (or clears) the live remote PTY id for a terminal.
func (s *DB) SetTerminalPty(ctx context.Context, id schema.TerminalID, ptyID string) error {
	return s.updateTerminal(ctx, id, `pty_id = ?`, ptyID)
}

// SetTerminalSize persists new terminal geometry.
func (s *DB) SetTerminalSize(ctx context.Context, id schema.TerminalID, cols, rows int) error {
	return s.updateTerminal(ctx, id, `cols = ?, rows = ?`, cols, rows)
}

// SetTerminalScrollback persists the trailing output buffer.
func (s *DB) SetTerminalScrollback(ctx context.Context, id schema.TerminalID, data []byte) error {
	return s.updateTerminal(ctx, id, `scrollback = ?`, data)
}

func (s *DB) updateTerminal(ctx context.Context, id schema.TerminalID, set string, args ...any) error {
	now := time.Now().UnixMilli()
	args = append(args, now, string(id))
	res, err := s.db.ExecContext(ctx, `UPDATE terminals SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.ErrTerminalNotFound
	}
	return nil
}

// SetTabTitle updates a tab's title and touches it.
func (s *DB) SetTabTitle(ctx context.Context, id schema.TabID, title string) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tabs SET title = ?, updated_at = ? WHERE id = ?
	`, title, now, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.ErrTabNotFound
	}
	return nil
}

// GetTab reads one tab row without kind detail.
func (s *DB) GetTab(ctx context.Context, id schema.TabID) (schema.TabSnapshot, error) {
	var tab schema.TabSnapshot
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, title, created_at, updated_at FROM tabs WHERE id = ?
	`, string(id)).Scan(&tab.ID, &tab.Kind, &tab.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.TabSnapshot{}, schema.ErrTabNotFound
	}
	if err != nil {
		return schema.TabSnapshot{}, err
	}
	tab.CreatedAt = time.UnixMilli(created)
	tab.UpdatedAt = time.UnixMilli(updated)
	return tab, nil
}

// TouchTab bumps a tab's updated_at.
func (s *DB) TouchTab(ctx context.Context, id schema.TabID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tabs SET updated_at = ? WHERE id = ?
	`, time.Now().UnixMilli(), string(id))
	return err
}

// ArchiveTab marks a tab archived. Archived tabs drop out of listings but
// are never deleted.
func (s *DB) ArchiveTab(ctx context.Context, id schema.TabID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tabs SET archived_at = ? WHERE id = ? AND archived_at IS NULL
	`, time.Now().UnixMilli(), string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.ErrTabNotFound
	}
	return nil
}

// ListTabs returns non-archived tabs joined with their kind detail, ordered
// by updated_at descending then created_at ascending.
func (s *DB) ListTabs(ctx context.Context) ([]schema.TabSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.kind, t.title, t.created_at, t.updated_at,
		       s.id, s.status, tm.id, tm.cols, tm.rows
		FROM tabs t
		LEFT JOIN sessions s ON t.kind = 'session' AND t.id = 'session_' || s.id
		LEFT JOIN terminals tm ON t.kind = 'terminal' AND t.id = 'terminal_' || tm.id
		WHERE t.archived_at IS NULL
		ORDER BY t.updated_at DESC, t.created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tabs []schema.TabSnapshot
	for rows.Next() {
		var tab schema.TabSnapshot
		var created, updated int64
		var sessionID, sessionStatus, terminalID sql.NullString
		var cols, trows sql.NullInt64
		if err := rows.Scan(&tab.ID, &tab.Kind, &tab.Title, &created, &updated,
			&sessionID, &sessionStatus, &terminalID, &cols, &trows); err != nil {
			return nil, err
		}
		tab.CreatedAt = time.UnixMilli(created)
		tab.UpdatedAt = time.UnixMilli(updated)
		if sessionID.Valid {
			tab.Session = &schema.SessionInfo{
				ID:     schema.SessionID(sessionID.String),
				Status: schema.SessionStatus(sessionStatus.String),
			}
		}
		if terminalID.Valid {
			tab.Terminal = &schema.TerminalInfo{
				ID:   schema.TerminalID(terminalID.String),
				Cols: int(cols.Int64),
				Rows: int(trows.Int64),
			}
		}
		tabs = append(tabs, tab)
	}
	return tabs, rows.Err()
}
