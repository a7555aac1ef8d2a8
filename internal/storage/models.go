package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SitePrompt is a persisted hostname pattern with its custom prompt.
// Position preserves insertion order, which is the tie-break order for
// pattern matching.
type SitePrompt struct {
	Pattern   string    `json:"pattern"`
	Name      string    `json:"name,omitempty"`
	Prompt    string    `json:"prompt"`
	Enabled   bool      `json:"enabled"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attempt is one recorded round of script improvement within a session.
type Attempt struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Script    string    `json:"script"`
	Output    string    `json:"output"`
	Improved  string    `json:"improved"`
	CreatedAt time.Time `json:"created_at"`
}

type Interaction struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Kind       string    `json:"kind"` // "analyze" or "improve"
	Provider   string    `json:"provider"`
	Model      string    `json:"model,omitempty"`
	URL        string    `json:"url,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response,omitempty"`
	Status     string    `json:"status"` // "completed" or "failed"
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	PayloadJSON string    `json:"-"`
	Status      string    `json:"status"` // "pending", "running", "completed", "failed"
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAfter    time.Time `json:"run_after"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastError   string    `json:"last_error,omitempty"`
	ResultJSON  string    `json:"-"`
}
