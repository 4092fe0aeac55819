// Package mirror copies named cookies into durable storage.
package mirror

import (
	"fmt"

	"github.com/st-keller/dust-client/environment"
	"github.com/st-keller/dust-client/logger"
)

// Store is the durable storage a cookie is mirrored into.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Outcome describes what a single mirror operation did.
type Outcome string

const (
	Written   Outcome = "written"
	Unchanged Outcome = "unchanged"
	Removed   Outcome = "removed"
	Failed    Outcome = "failed"
)

// Entry pairs a source cookie with its storage key.
type Entry struct {
	Cookie string
	Key    string
}

// DefaultEntries are the cookies issued by the collector.
var DefaultEntries = []Entry{
	{Cookie: "dust", Key: "dust"},
	{Cookie: "dust-device", Key: "dust-device"},
}

// Mirror keeps storage in step with the cookie store.
type Mirror struct {
	store Store
	log   logger.Logger
}

// New creates a Mirror writing into store.
func New(store Store, log logger.Logger) *Mirror {
	return &Mirror{store: store, log: log.WithComponent("mirror")}
}

// Mirror applies one entry against a document.cookie style header.
// A present cookie that differs from storage is written; an identical one
// is left alone; an absent (or empty) cookie removes the stored value.
func (m *Mirror) Mirror(cookies string, e Entry) (Outcome, error) {
	value, ok := environment.CookieValue(cookies, e.Cookie)
	if !ok || value == "" {
		if err := m.store.Remove(e.Key); err != nil {
			return Failed, fmt.Errorf("remove %s: %w", e.Key, err)
		}
		m.log.Warn().Str("cookie", e.Cookie).Msgf("%q is missing. Looks like someone cleaned it up!", e.Cookie)
		return Removed, nil
	}

	stored, found, err := m.store.Get(e.Key)
	if err != nil {
		return Failed, fmt.Errorf("read %s: %w", e.Key, err)
	}
	if found && stored == value {
		return Unchanged, nil
	}

	if err := m.store.Set(e.Key, value); err != nil {
		return Failed, fmt.Errorf("write %s: %w", e.Key, err)
	}

	m.log.Debug().Str("cookie", e.Cookie).Str("key", e.Key).Msg("Mirrored cookie into storage")

	return Written, nil
}

// All mirrors every entry in order. Storage failures are logged and reported
// as Failed without stopping the remaining entries.
func (m *Mirror) All(cookies string, entries []Entry) map[string]Outcome {
	out := make(map[string]Outcome, len(entries))

	for _, e := range entries {
		outcome, err := m.Mirror(cookies, e)
		if err != nil {
			m.log.Error().Err(err).Str("cookie", e.Cookie).Msg("Cookie mirroring failed")
		}
		out[e.Key] = outcome
	}

	return out
}
