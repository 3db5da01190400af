// Package history persists the queries a user ran, most recent last.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	// Version is the current schema version
	Version = 1

	// Filename is the default history filename
	Filename = "history.json"

	// DefaultMaxEntries bounds the number of remembered queries.
	DefaultMaxEntries = 100
)

// ErrEmptyQuery is returned when adding a blank query.
var ErrEmptyQuery = errors.New("query is empty")

// Entry is one remembered query.
type Entry struct {
	Query   string    `json:"query"`
	LastRun time.Time `json:"last_run"`
	Runs    int       `json:"runs"`
}

// History is the list of queries a user ran, oldest first.
type History struct {
	Version    int          `json:"version"`
	Entries    []Entry      `json:"entries"`
	maxEntries int          `json:"-"`
	mu         sync.RWMutex `json:"-"`
}

// New creates an empty history keeping at most maxEntries queries.
func New(maxEntries int) *History {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &History{
		Version:    Version,
		Entries:    []Entry{},
		maxEntries: maxEntries,
	}
}

// Load reads a history from disk, or creates a new one if it doesn't exist.
func Load(path string, maxEntries int) (*History, error) {
	h := New(maxEntries)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h, nil
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	if err := json.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}
	if h.Entries == nil {
		h.Entries = []Entry{}
	}
	h.trim()
	return h, nil
}

// Save writes the history to disk atomically.
func (h *History) Save(path string) error {
	h.mu.RLock()
	data, err := json.MarshalIndent(h, "", "  ")
	h.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write history temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename history file: %w", err)
	}
	return nil
}

// Add records a run of query. A query already present moves to the end.
func (h *History) Add(query string, at time.Time) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrEmptyQuery
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entry := Entry{Query: query, LastRun: at, Runs: 1}
	if i := slices.IndexFunc(h.Entries, func(e Entry) bool { return e.Query == query }); i >= 0 {
		entry.Runs = h.Entries[i].Runs + 1
		h.Entries = slices.Delete(h.Entries, i, i+1)
	}
	h.Entries = append(h.Entries, entry)
	h.trim()
	return nil
}

// trim drops the oldest entries beyond the bound. Callers hold the lock or
// own the history exclusively.
func (h *History) trim() {
	if extra := len(h.Entries) - h.maxEntries; extra > 0 {
		h.Entries = slices.Delete(h.Entries, 0, extra)
	}
}

// List returns a copy of the entries, oldest first.
func (h *History) List() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.Entries)
}

// Last returns the most recent query.
func (h *History) Last() (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.Entries) == 0 {
		return Entry{}, false
	}
	return h.Entries[len(h.Entries)-1], true
}

// Clear removes every entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Entries = []Entry{}
}
