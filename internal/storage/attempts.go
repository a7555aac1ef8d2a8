package storage

import (
	"fmt"
)

// AppendAttempt records an attempt and trims the session to its newest keep
// rows. keep <= 0 disables trimming.
func (s *Store) AppendAttempt(a Attempt, keep int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning attempt transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO attempts (id, session_id, script, output, improved, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.Script, a.Output, a.Improved, formatTime(a.CreatedAt),
	); err != nil {
		return fmt.Errorf("inserting attempt: %w", err)
	}

	if keep > 0 {
		if _, err := tx.Exec(`
			DELETE FROM attempts WHERE session_id = ? AND seq NOT IN (
				SELECT seq FROM attempts WHERE session_id = ? ORDER BY seq DESC LIMIT ?
			)`, a.SessionID, a.SessionID, keep,
		); err != nil {
			return fmt.Errorf("trimming attempts: %w", err)
		}
	}

	return tx.Commit()
}

// ListAttempts returns a session's attempts oldest first.
func (s *Store) ListAttempts(sessionID string) ([]Attempt, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, script, output, improved, created_at
		FROM attempts WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Attempt
	for rows.Next() {
		var a Attempt
		var createdAt string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Script, &a.Output, &a.Improved, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// ClearAttempts deletes a session's history and reports how many rows went.
func (s *Store) ClearAttempts(sessionID string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM attempts WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
