package storage

import (
	"database/sql"
	"time"
)

const sitePromptColumns = `pattern, name, prompt, enabled, position, created_at, updated_at`

// UpsertSitePrompt inserts a site prompt or updates the existing row with the
// same pattern. An update keeps the original position so match ordering is
// stable across edits.
func (s *Store) UpsertSitePrompt(p SitePrompt) error {
	now := formatTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO site_prompts (`+sitePromptColumns+`)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM site_prompts), ?, ?)
		ON CONFLICT(pattern) DO UPDATE SET
			name = excluded.name,
			prompt = excluded.prompt,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		p.Pattern, p.Name, p.Prompt, p.Enabled, now, now,
	)
	return err
}

func scanSitePrompt(row rowScanner) (SitePrompt, error) {
	var p SitePrompt
	var createdAt, updatedAt string
	if err := row.Scan(&p.Pattern, &p.Name, &p.Prompt, &p.Enabled, &p.Position, &createdAt, &updatedAt); err != nil {
		return SitePrompt{}, err
	}
	var err error
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return SitePrompt{}, err
	}
	if p.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return SitePrompt{}, err
	}
	return p, nil
}

func (s *Store) GetSitePrompt(pattern string) (SitePrompt, error) {
	p, err := scanSitePrompt(s.db.QueryRow(`SELECT `+sitePromptColumns+` FROM site_prompts WHERE pattern = ?`, pattern))
	if err == sql.ErrNoRows {
		return SitePrompt{}, ErrNotFound
	}
	return p, err
}

// ListSitePrompts returns all site prompts in insertion order.
func (s *Store) ListSitePrompts() ([]SitePrompt, error) {
	rows, err := s.db.Query(`SELECT ` + sitePromptColumns + ` FROM site_prompts ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SitePrompt
	for rows.Next() {
		p, err := scanSitePrompt(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *Store) SetSitePromptEnabled(pattern string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE site_prompts SET enabled = ?, updated_at = ? WHERE pattern = ?`,
		enabled, formatTime(time.Now()), pattern)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) DeleteSitePrompt(pattern string) error {
	res, err := s.db.Exec(`DELETE FROM site_prompts WHERE pattern = ?`, pattern)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
