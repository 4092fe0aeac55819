// Package standard provides the diagnostics components every dust client carries.
package standard

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogEntry represents a single captured diagnostic.
type LogEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Level     zerolog.Level `json:"level"`
	Message   string        `json:"message"`
}

// RecentLogs keeps the last N diagnostics at or above a minimum level.
// It is installed as a zerolog hook so every component logger feeds it.
type RecentLogs struct {
	mu         sync.Mutex
	entries    []LogEntry
	maxEntries int
	minLevel   zerolog.Level
}

// NewRecentLogs creates a tracker holding up to maxEntries diagnostics of
// level minLevel or higher.
func NewRecentLogs(maxEntries int, minLevel zerolog.Level) *RecentLogs {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &RecentLogs{
		entries:    make([]LogEntry, 0, maxEntries),
		maxEntries: maxEntries,
		minLevel:   minLevel,
	}
}

// Run implements zerolog.Hook.
func (r *RecentLogs) Run(_ *zerolog.Event, level zerolog.Level, message string) {
	if level < r.minLevel || level == zerolog.NoLevel {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	})

	// ringbuffer
	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[len(r.entries)-r.maxEntries:]
	}
}

// Entries returns a copy of the captured diagnostics, oldest first.
func (r *RecentLogs) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Has reports whether a diagnostic with exactly this message was captured.
func (r *RecentLogs) Has(message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.Message == message {
			return true
		}
	}
	return false
}

// GetData returns the captured diagnostics with per-level counts.
func (r *RecentLogs) GetData() interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errorCount, warnCount, otherCount int
	for _, entry := range r.entries {
		switch {
		case entry.Level >= zerolog.ErrorLevel:
			errorCount++
		case entry.Level == zerolog.WarnLevel:
			warnCount++
		default:
			otherCount++
		}
	}

	entries := make([]LogEntry, len(r.entries))
	copy(entries, r.entries)

	return map[string]interface{}{
		"entries": entries,
		"stats": map[string]interface{}{
			"total_count":    len(entries),
			"errors_count":   errorCount,
			"warnings_count": warnCount,
			"other_count":    otherCount,
			"max_entries":    r.maxEntries,
		},
	}
}
