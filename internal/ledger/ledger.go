// Package ledger persists the last-synchronized timestamp of every poster or
// poster group between runs.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ivlev/postersync/internal/system"
)

// TimeFormat is RFC 3339 with milliseconds.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Ledger maps ledger keys to timestamps.
type Ledger struct {
	loc     *time.Location
	entries map[string]time.Time
}

// New returns an empty ledger that renders timestamps in loc.
func New(loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{loc: loc, entries: make(map[string]time.Time)}
}

// Load reads the ledger at path. A missing file yields an empty ledger and
// existed == false.
func Load(path string, loc *time.Location) (l *Ledger, existed bool, err error) {
	l = New(loc)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read ledger: %w", err)
	}
	if err := l.Unmarshal(data); err != nil {
		return nil, true, err
	}
	return l, true, nil
}

// Get returns the timestamp stored under key.
func (l *Ledger) Get(key string) (time.Time, bool) {
	t, ok := l.entries[key]
	return t, ok
}

// Set stores t under key, overwriting any previous value.
func (l *Ledger) Set(key string, t time.Time) {
	l.entries[key] = t.In(l.loc)
}

func (l *Ledger) Len() int {
	return len(l.entries)
}

// Keys returns the keys in sorted order.
func (l *Ledger) Keys() []string {
	keys := make([]string, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy.
func (l *Ledger) Clone() *Ledger {
	c := New(l.loc)
	for k, v := range l.entries {
		c.entries[k] = v
	}
	return c
}

// Marshal renders the ledger as indented JSON.
func (l *Ledger) Marshal() ([]byte, error) {
	out := make(map[string]string, len(l.entries))
	for k, v := range l.entries {
		out[k] = v.In(l.loc).Format(TimeFormat)
	}
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Unmarshal replaces the ledger contents with data.
func (l *Ledger) Unmarshal(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse ledger: %w", err)
	}
	entries := make(map[string]time.Time, len(raw))
	for k, v := range raw {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fmt.Errorf("parse ledger entry %q: %w", k, err)
		}
		entries[k] = t.In(l.loc)
	}
	l.entries = entries
	return nil
}

// Save writes the ledger to path through a temporary file in the same
// directory, so a crash never leaves a truncated ledger.
func (l *Ledger) Save(path string) error {
	data, err := l.Marshal()
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	return system.WriteFileAtomic(path, data, 0644)
}
