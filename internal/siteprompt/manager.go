package siteprompt

import (
	"errors"
	"fmt"

	"github.com/kalambet/codebuddy/internal/storage"
	"github.com/samber/lo"
)

// ErrExists is returned by Add when the pattern is already configured.
var ErrExists = errors.New("site prompt already exists")

// ErrEmptyPrompt is returned when an entry has no prompt text.
var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// Store persists site prompts. *storage.Store implements it.
type Store interface {
	UpsertSitePrompt(p storage.SitePrompt) error
	GetSitePrompt(pattern string) (storage.SitePrompt, error)
	ListSitePrompts() ([]storage.SitePrompt, error)
	SetSitePromptEnabled(pattern string, enabled bool) error
	DeleteSitePrompt(pattern string) error
}

// Manager validates and normalizes patterns before they reach the store, so
// stored patterns are always in matchable form.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

func (m *Manager) prepare(e Entry) (Entry, error) {
	if err := ValidateSitePattern(e.Pattern); err != nil {
		return Entry{}, err
	}
	e.Pattern = NormalizeSitePattern(e.Pattern)
	if e.Prompt == "" {
		return Entry{}, ErrEmptyPrompt
	}
	return e, nil
}

// Add stores a new entry. It fails with ErrExists if the pattern is taken.
func (m *Manager) Add(e Entry) (Entry, error) {
	e, err := m.prepare(e)
	if err != nil {
		return Entry{}, err
	}
	if _, err := m.store.GetSitePrompt(e.Pattern); err == nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrExists, e.Pattern)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Entry{}, fmt.Errorf("checking site prompt: %w", err)
	}
	if err := m.store.UpsertSitePrompt(toRecord(e)); err != nil {
		return Entry{}, fmt.Errorf("saving site prompt: %w", err)
	}
	return e, nil
}

// Update replaces the name, prompt and enabled flag of an existing entry,
// keeping its position.
func (m *Manager) Update(e Entry) (Entry, error) {
	e, err := m.prepare(e)
	if err != nil {
		return Entry{}, err
	}
	if _, err := m.store.GetSitePrompt(e.Pattern); err != nil {
		return Entry{}, err
	}
	if err := m.store.UpsertSitePrompt(toRecord(e)); err != nil {
		return Entry{}, fmt.Errorf("saving site prompt: %w", err)
	}
	return e, nil
}

// Get returns the entry stored under pattern.
func (m *Manager) Get(pattern string) (Entry, error) {
	rec, err := m.store.GetSitePrompt(NormalizeSitePattern(pattern))
	if err != nil {
		return Entry{}, err
	}
	return fromRecord(rec), nil
}

// Toggle flips the enabled flag and returns the new value.
func (m *Manager) Toggle(pattern string) (bool, error) {
	pattern = NormalizeSitePattern(pattern)
	rec, err := m.store.GetSitePrompt(pattern)
	if err != nil {
		return false, err
	}
	if err := m.store.SetSitePromptEnabled(pattern, !rec.Enabled); err != nil {
		return false, err
	}
	return !rec.Enabled, nil
}

// SetEnabled sets the enabled flag explicitly.
func (m *Manager) SetEnabled(pattern string, enabled bool) error {
	return m.store.SetSitePromptEnabled(NormalizeSitePattern(pattern), enabled)
}

func (m *Manager) Remove(pattern string) error {
	return m.store.DeleteSitePrompt(NormalizeSitePattern(pattern))
}

// List returns all entries in insertion order.
func (m *Manager) List() ([]Entry, error) {
	recs, err := m.store.ListSitePrompts()
	if err != nil {
		return nil, err
	}
	return lo.Map(recs, func(r storage.SitePrompt, _ int) Entry { return fromRecord(r) }), nil
}

// Resolve returns the prompt for rawURL and the entry that supplied it.
// With no match it returns defaultPrompt and a nil entry.
func (m *Manager) Resolve(rawURL, defaultPrompt string) (string, *Entry, error) {
	entries, err := m.List()
	if err != nil {
		return "", nil, err
	}
	e, ok := FindMatchingPrompt(rawURL, entries)
	if !ok || e.Prompt == "" {
		return defaultPrompt, nil, nil
	}
	return e.Prompt, &e, nil
}

func toRecord(e Entry) storage.SitePrompt {
	return storage.SitePrompt{Pattern: e.Pattern, Name: e.Name, Prompt: e.Prompt, Enabled: e.Enabled}
}

func fromRecord(r storage.SitePrompt) Entry {
	return Entry{Pattern: r.Pattern, Name: r.Name, Prompt: r.Prompt, Enabled: r.Enabled}
}
