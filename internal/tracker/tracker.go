package tracker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// ExpiryWindow is how long an identity stays active after its
	// last message.
	ExpiryWindow = 300 * time.Second
	// SweepInterval is how often expired identities are evicted.
	SweepInterval = 10 * time.Second
	// SaveInterval caps how often the set is persisted.
	SaveInterval = 30 * time.Second

	stateFile = "active_users.json"
)

// Tracker records the last-seen time of every chatting identity. All
// methods are safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	dirty bool

	path     string
	now      func() time.Time
	onChange func(count int)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithOnChange registers a callback fired whenever the active count
// changes. It runs on the caller's or the sweep goroutine and must not
// block.
func WithOnChange(fn func(count int)) Option {
	return func(t *Tracker) { t.onChange = fn }
}

// NewTracker loads persisted state from dir, if any, and returns a
// ready tracker. A corrupt state file is discarded with a warning.
func NewTracker(dir string, opts ...Option) *Tracker {
	t := &Tracker{
		seen:     make(map[string]time.Time),
		path:     filepath.Join(dir, stateFile),
		now:      time.Now,
		onChange: func(int) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.load()
	return t
}

// Touch marks identity as active right now.
func (t *Tracker) Touch(identity string) {
	if identity == "" {
		return
	}
	t.mu.Lock()
	_, existed := t.seen[identity]
	t.seen[identity] = t.now()
	t.dirty = true
	count := len(t.seen)
	t.mu.Unlock()

	if !existed {
		t.onChange(count)
	}
}

// ActiveUsers returns the active identities in sorted order.
func (t *Tracker) ActiveUsers() []string {
	t.mu.Lock()
	users := make([]string, 0, len(t.seen))
	for id := range t.seen {
		users = append(users, id)
	}
	t.mu.Unlock()
	sort.Strings(users)
	return users
}

// Count reports the number of currently active identities.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// Run sweeps and persists on their intervals until ctx is canceled,
// then writes one final snapshot.
func (t *Tracker) Run(ctx context.Context) {
	sweep := time.NewTicker(SweepInterval)
	defer sweep.Stop()
	save := time.NewTicker(SaveInterval)
	defer save.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Sweep()
			if err := t.Save(); err != nil {
				log.Error("saving active users failed", "err", err)
			}
			return
		case <-sweep.C:
			t.Sweep()
		case <-save.C:
			if err := t.Save(); err != nil {
				log.Error("saving active users failed", "err", err)
			}
		}
	}
}

// Sweep evicts identities whose last message is older than the expiry
// window and raises a change notification when any were evicted.
func (t *Tracker) Sweep() {
	cutoff := t.now().Add(-ExpiryWindow)

	t.mu.Lock()
	evicted := 0
	for id, last := range t.seen {
		if last.Before(cutoff) {
			delete(t.seen, id)
			evicted++
		}
	}
	if evicted > 0 {
		t.dirty = true
	}
	count := len(t.seen)
	t.mu.Unlock()

	if evicted > 0 {
		log.Debug("active users swept", "evicted", evicted, "remaining", count)
		t.onChange(count)
	}
}

// Save persists the set if it changed since the last save.
func (t *Tracker) Save() error {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]time.Time, len(t.seen))
	for id, last := range t.seen {
		snapshot[id] = last
	}
	t.dirty = false
	t.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(t.path, data, 0o644)
}

func (t *Tracker) load() {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("reading active users failed", "path", t.path, "err", err)
		}
		return
	}
	var seen map[string]time.Time
	if err := json.Unmarshal(data, &seen); err != nil {
		log.Warn("active users file corrupt, starting empty", "path", t.path, "err", err)
		return
	}
	if seen == nil {
		return
	}
	t.seen = seen
	log.Debug("active users loaded", "count", len(seen))
}
