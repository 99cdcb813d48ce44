package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Store file names inside the data directory.
const (
	optionsFile = "options.json"
	filterFile  = "filter.json"
	usersFile   = "users.json"
	voicesFile  = "voices.json"
)

// FallbackVoice is the hard-coded last resort when no mapping resolves.
const FallbackVoice = "EN_US_MALE_1"

// MutedVoice is the sentinel that suppresses speech for a role.
const MutedVoice = "NONE"

// Well-known voice map keys.
const (
	VoiceMapDefault    = "Default"
	VoiceMapBadWord    = "BadWordVoice"
	VoiceMapSubscriber = "Subscriber"
	VoiceMapModerator  = "Moderator"
)

// Options is the behavior store: command gating and the role→voice map.
type Options struct {
	// CommandsOnly requires messages to open with Trigger to be spoken.
	CommandsOnly bool `json:"commands_only"`

	// Trigger is the token stripped from gated messages, e.g. "!tts".
	Trigger string `json:"trigger"`

	// CommandsEnabled gates all moderator voice commands.
	CommandsEnabled bool `json:"commands_enabled"`

	// VoiceMap maps roles ("Subscriber", "Moderator", "Top Gifter 1".."5",
	// "Follow Role 0".."2", "Default", "BadWordVoice") to voice names.
	VoiceMap map[string]string `json:"voice_map"`
}

// Filter is the bad-word store.
type Filter struct {
	Words   []string `json:"word_filter"`
	Replies []string `json:"filter_replies"`
}

// VoiceOverride is a per-identity priority voice, optionally with a
// speed multiplier. It decodes from a bare string, from
// {"voice":..,"speed":..}, or from the legacy one-entry map form
// {"VOICE":"1.2"}.
type VoiceOverride struct {
	Voice string
	Speed *float64
}

// UnmarshalJSON accepts all three historical encodings.
func (v *VoiceOverride) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.Voice = s
		v.Speed = nil
		return nil
	}

	var tagged struct {
		Voice string   `json:"voice"`
		Speed *float64 `json:"speed"`
	}
	if err := json.Unmarshal(data, &tagged); err == nil && tagged.Voice != "" {
		v.Voice = tagged.Voice
		v.Speed = tagged.Speed
		return nil
	}

	var legacy map[string]json.RawMessage
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("voice override: %w", err)
	}
	for voice, rawSpeed := range legacy {
		if voice == "voice" || voice == "speed" {
			continue
		}
		v.Voice = voice
		var f float64
		if err := json.Unmarshal(rawSpeed, &f); err == nil {
			v.Speed = &f
		} else {
			var fs string
			if err := json.Unmarshal(rawSpeed, &fs); err == nil {
				if parsed, perr := parseFloat(fs); perr == nil {
					v.Speed = &parsed
				}
			}
		}
		return nil
	}
	return errors.New("voice override: empty object")
}

// MarshalJSON writes the compact string form when there is no speed.
func (v VoiceOverride) MarshalJSON() ([]byte, error) {
	if v.Speed == nil {
		return json.Marshal(v.Voice)
	}
	return json.Marshal(struct {
		Voice string  `json:"voice"`
		Speed float64 `json:"speed"`
	}{v.Voice, *v.Speed})
}

// Users is the per-identity store: priority voices and display-name
// overrides. Both are mutated by moderator commands and persisted.
type Users struct {
	Priority map[string]VoiceOverride `json:"priority_voices"`
	NameSwap map[string]string        `json:"name_overrides"`
}

// VoiceCatalog maps friendly voice names to API voice codes, loaded
// from the sectioned cheat sheet in voices.json.
type VoiceCatalog struct {
	codes map[string]string
}

type voicesDoc struct {
	Sections map[string][]struct {
		Name string `json:"name"`
		Code string `json:"code"`
	} `json:"sections"`
}

// Resolve returns the API code for a friendly voice name,
// case-insensitively.
func (c *VoiceCatalog) Resolve(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	code, ok := c.codes[strings.ToLower(strings.TrimSpace(name))]
	return code, ok
}

// Len reports the number of catalog entries.
func (c *VoiceCatalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.codes)
}

// Snapshot is an immutable view of all settings stores, valid for
// exactly one decision. Callers must not mutate the contained maps.
type Snapshot struct {
	Options Options
	Filter  Filter
	Users   Users
	Voices  *VoiceCatalog
}

// Settings owns the mutable stores. Reads go through Snapshot();
// ReloadIfChanged() is invoked synchronously before each decision, so
// no event ever spans two snapshots.
type Settings struct {
	dir string

	mu     sync.RWMutex
	snap   *Snapshot
	stamps map[string]time.Time

	dirty atomic.Bool
}

// OpenSettings loads all stores from dir. Missing users/filter files
// start empty; a missing or corrupt options or voices file is fatal,
// since no voice can be chosen safely without them.
func OpenSettings(dir string) (*Settings, error) {
	s := &Settings{
		dir:    dir,
		stamps: make(map[string]time.Time),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the current immutable settings view.
func (s *Settings) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// ReloadIfChanged re-reads the stores when the watcher flagged a write
// or any file's mtime moved. Reload errors keep the previous snapshot;
// a half-written store must not take down a healthy pipeline.
func (s *Settings) ReloadIfChanged() {
	if !s.dirty.Swap(false) && !s.stampsChanged() {
		return
	}
	if err := s.reload(); err != nil {
		log.Warn("settings reload failed, keeping previous snapshot", "err", err)
	}
}

// Watch marks the settings dirty whenever anything inside the data
// directory changes. The actual reload still happens synchronously in
// ReloadIfChanged, keeping the one-snapshot-per-event contract.
func (s *Settings) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
					s.dirty.Store(true)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Debug("settings watcher error", "err", err)
			}
		}
	}()
	return nil
}

func (s *Settings) stampsChanged() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range []string{optionsFile, filterFile, usersFile, voicesFile} {
		if stamp(filepath.Join(s.dir, name)) != s.stamps[name] {
			return true
		}
	}
	return false
}

func stamp(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (s *Settings) reload() error {
	var opts Options
	if err := readJSON(filepath.Join(s.dir, optionsFile), &opts); err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	if opts.VoiceMap == nil {
		opts.VoiceMap = map[string]string{}
	}
	if opts.Trigger == "" {
		opts.Trigger = "!tts"
	}

	catalog, err := loadVoices(filepath.Join(s.dir, voicesFile))
	if err != nil {
		return fmt.Errorf("load voices: %w", err)
	}

	var filter Filter
	if err := readJSONOptional(filepath.Join(s.dir, filterFile), &filter); err != nil {
		return fmt.Errorf("load filter: %w", err)
	}

	users := Users{
		Priority: map[string]VoiceOverride{},
		NameSwap: map[string]string{},
	}
	if err := readJSONOptional(filepath.Join(s.dir, usersFile), &users); err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	if users.Priority == nil {
		users.Priority = map[string]VoiceOverride{}
	}
	if users.NameSwap == nil {
		users.NameSwap = map[string]string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = &Snapshot{Options: opts, Filter: filter, Users: users, Voices: catalog}
	for _, name := range []string{optionsFile, filterFile, usersFile, voicesFile} {
		s.stamps[name] = stamp(filepath.Join(s.dir, name))
	}
	return nil
}

func loadVoices(path string) (*VoiceCatalog, error) {
	var doc voicesDoc
	if err := readJSON(path, &doc); err != nil {
		return nil, err
	}
	codes := make(map[string]string)
	for _, entries := range doc.Sections {
		for _, e := range entries {
			if e.Name == "" || e.Code == "" {
				continue
			}
			codes[strings.ToLower(e.Name)] = e.Code
		}
	}
	return &VoiceCatalog{codes: codes}, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// readJSONOptional treats a missing file as an empty store.
func readJSONOptional(path string, v any) error {
	err := readJSON(path, v)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// SetPriorityVoice persists a voice override for identity.
func (s *Settings) SetPriorityVoice(identity string, ov VoiceOverride) error {
	return s.mutateUsers(func(u *Users) {
		u.Priority[identity] = ov
	})
}

// RemovePriorityVoice deletes a voice override. It reports whether the
// identity had one.
func (s *Settings) RemovePriorityVoice(identity string) (bool, error) {
	var found bool
	err := s.mutateUsers(func(u *Users) {
		_, found = u.Priority[identity]
		delete(u.Priority, identity)
	})
	return found, err
}

// SetNameOverride persists a display-name override.
func (s *Settings) SetNameOverride(identity, display string) error {
	return s.mutateUsers(func(u *Users) {
		u.NameSwap[identity] = display
	})
}

// RemoveNameOverride deletes a display-name override. It reports
// whether the identity had one.
func (s *Settings) RemoveNameOverride(identity string) (bool, error) {
	var found bool
	err := s.mutateUsers(func(u *Users) {
		_, found = u.NameSwap[identity]
		delete(u.NameSwap, identity)
	})
	return found, err
}

// AddFilterWords appends words to the bad-word list, deduplicating
// case-insensitively, and persists the filter store.
func (s *Settings) AddFilterWords(words []string) (added []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filter := s.snap.Filter
	seen := make(map[string]bool, len(filter.Words))
	for _, w := range filter.Words {
		seen[strings.ToLower(w)] = true
	}
	merged := append([]string(nil), filter.Words...)
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || seen[strings.ToLower(w)] {
			continue
		}
		merged = append(merged, w)
		seen[strings.ToLower(w)] = true
		added = append(added, w)
	}
	if len(added) == 0 {
		return nil, nil
	}

	next := Filter{Words: merged, Replies: filter.Replies}
	if err := writeJSON(filepath.Join(s.dir, filterFile), next); err != nil {
		return nil, err
	}

	snap := *s.snap
	snap.Filter = next
	s.snap = &snap
	s.stamps[filterFile] = stamp(filepath.Join(s.dir, filterFile))
	return added, nil
}

func (s *Settings) mutateUsers(fn func(*Users)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Users{
		Priority: make(map[string]VoiceOverride, len(s.snap.Users.Priority)),
		NameSwap: make(map[string]string, len(s.snap.Users.NameSwap)),
	}
	for k, v := range s.snap.Users.Priority {
		next.Priority[k] = v
	}
	for k, v := range s.snap.Users.NameSwap {
		next.NameSwap[k] = v
	}
	fn(&next)

	if err := writeJSON(filepath.Join(s.dir, usersFile), next); err != nil {
		return err
	}

	snap := *s.snap
	snap.Users = next
	s.snap = &snap
	s.stamps[usersFile] = stamp(filepath.Join(s.dir, usersFile))
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func parseFloat(s string) (float64, error) {
	var f float64
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &f); err != nil {
		return 0, err
	}
	return f, nil
}
