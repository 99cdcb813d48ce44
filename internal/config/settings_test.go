package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeStore(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func newTestDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeStore(t, dir, "options.json", `{
		"commands_only": false,
		"trigger": "!tts",
		"commands_enabled": true,
		"voice_map": {"Default": "Narrator", "Subscriber": "Ghostface"}
	}`)
	writeStore(t, dir, "voices.json", `{
		"sections": {
			"English": [
				{"name": "Narrator", "code": "en_male_narration"},
				{"name": "Ghostface", "code": "en_us_ghostface"},
				{"name": "EN_US_MALE_1", "code": "en_us_006"}
			]
		}
	}`)
	return dir
}

func TestOpenSettings_LoadsStores(t *testing.T) {
	dir := newTestDir(t)
	writeStore(t, dir, "filter.json", `{"word_filter":["heck"],"filter_replies":["tried it"]}`)
	writeStore(t, dir, "users.json", `{"priority_voices":{"alice":"Ghostface"},"name_overrides":{"bob":"Bobby"}}`)

	s, err := OpenSettings(dir)
	if err != nil {
		t.Fatalf("OpenSettings failed: %v", err)
	}

	snap := s.Snapshot()
	if got := snap.Options.VoiceMap["Default"]; got != "Narrator" {
		t.Errorf("Expected Default voice Narrator, got %q", got)
	}
	if ov := snap.Users.Priority["alice"]; ov.Voice != "Ghostface" || ov.Speed != nil {
		t.Errorf("Unexpected override: %+v", ov)
	}
	if snap.Users.NameSwap["bob"] != "Bobby" {
		t.Errorf("Expected name override for bob")
	}
	if len(snap.Filter.Words) != 1 || snap.Filter.Words[0] != "heck" {
		t.Errorf("Unexpected filter words: %v", snap.Filter.Words)
	}
	if code, ok := snap.Voices.Resolve("narrator"); !ok || code != "en_male_narration" {
		t.Errorf("Voice resolution failed: %q %v", code, ok)
	}
}

func TestOpenSettings_MissingOptionalStores(t *testing.T) {
	dir := newTestDir(t)

	s, err := OpenSettings(dir)
	if err != nil {
		t.Fatalf("OpenSettings failed: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Users.Priority) != 0 || len(snap.Filter.Words) != 0 {
		t.Errorf("Expected empty optional stores")
	}
}

func TestOpenSettings_CorruptOptionsFatal(t *testing.T) {
	dir := newTestDir(t)
	writeStore(t, dir, "options.json", `{broken`)

	if _, err := OpenSettings(dir); err == nil {
		t.Fatal("Expected error for corrupt options.json")
	}
}

func TestOpenSettings_MissingVoicesFatal(t *testing.T) {
	dir := t.TempDir()
	writeStore(t, dir, "options.json", `{"voice_map":{}}`)

	if _, err := OpenSettings(dir); err == nil {
		t.Fatal("Expected error for missing voices.json")
	}
}

func TestVoiceOverride_DecodeForms(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		voice string
		speed float64 // 0 means nil
	}{
		{"bare string", `"Ghostface"`, "Ghostface", 0},
		{"tagged", `{"voice":"Ghostface","speed":1.3}`, "Ghostface", 1.3},
		{"tagged no speed", `{"voice":"Narrator"}`, "Narrator", 0},
		{"legacy map string speed", `{"GHOSTFACE":"1.25"}`, "GHOSTFACE", 1.25},
		{"legacy map numeric speed", `{"GHOSTFACE":2}`, "GHOSTFACE", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ov VoiceOverride
			if err := json.Unmarshal([]byte(tt.raw), &ov); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if ov.Voice != tt.voice {
				t.Errorf("Expected voice %q, got %q", tt.voice, ov.Voice)
			}
			if tt.speed == 0 {
				if ov.Speed != nil {
					t.Errorf("Expected nil speed, got %v", *ov.Speed)
				}
			} else if ov.Speed == nil || *ov.Speed != tt.speed {
				t.Errorf("Expected speed %v, got %v", tt.speed, ov.Speed)
			}
		})
	}
}

func TestVoiceOverride_RoundTrip(t *testing.T) {
	speed := 1.4
	for _, ov := range []VoiceOverride{
		{Voice: "Narrator"},
		{Voice: "Ghostface", Speed: &speed},
	} {
		data, err := json.Marshal(ov)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		var back VoiceOverride
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if back.Voice != ov.Voice {
			t.Errorf("Voice lost in round trip: %q != %q", back.Voice, ov.Voice)
		}
	}
}

func TestReloadIfChanged_PicksUpEdits(t *testing.T) {
	dir := newTestDir(t)
	s, err := OpenSettings(dir)
	if err != nil {
		t.Fatalf("OpenSettings failed: %v", err)
	}

	writeStore(t, dir, "options.json", `{
		"commands_only": true,
		"voice_map": {"Default": "Ghostface"}
	}`)
	// Make sure the mtime moves even on coarse-grained filesystems.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(filepath.Join(dir, "options.json"), future, future); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	s.ReloadIfChanged()
	snap := s.Snapshot()
	if !snap.Options.CommandsOnly {
		t.Error("Expected reloaded commands_only=true")
	}
	if snap.Options.Trigger != "!tts" {
		t.Errorf("Expected default trigger after reload, got %q", snap.Options.Trigger)
	}
}

func TestReloadIfChanged_KeepsSnapshotOnCorruptEdit(t *testing.T) {
	dir := newTestDir(t)
	s, err := OpenSettings(dir)
	if err != nil {
		t.Fatalf("OpenSettings failed: %v", err)
	}

	writeStore(t, dir, "options.json", `{broken`)
	future := time.Now().Add(2 * time.Second)
	os.Chtimes(filepath.Join(dir, "options.json"), future, future)

	s.ReloadIfChanged()
	if got := s.Snapshot().Options.VoiceMap["Default"]; got != "Narrator" {
		t.Errorf("Expected previous snapshot to survive, got Default=%q", got)
	}
}

func TestMutations_Persist(t *testing.T) {
	dir := newTestDir(t)
	s, err := OpenSettings(dir)
	if err != nil {
		t.Fatalf("OpenSettings failed: %v", err)
	}

	speed := 1.2
	if err := s.SetPriorityVoice("alice", VoiceOverride{Voice: "Ghostface", Speed: &speed}); err != nil {
		t.Fatalf("SetPriorityVoice failed: %v", err)
	}
	if err := s.SetNameOverride("bob", "Bobby"); err != nil {
		t.Fatalf("SetNameOverride failed: %v", err)
	}

	// A fresh Settings over the same dir must see the mutations.
	s2, err := OpenSettings(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	snap := s2.Snapshot()
	ov, ok := snap.Users.Priority["alice"]
	if !ok || ov.Voice != "Ghostface" || ov.Speed == nil || *ov.Speed != 1.2 {
		t.Errorf("Priority voice not persisted: %+v", ov)
	}
	if snap.Users.NameSwap["bob"] != "Bobby" {
		t.Error("Name override not persisted")
	}

	found, err := s2.RemovePriorityVoice("alice")
	if err != nil || !found {
		t.Errorf("RemovePriorityVoice: found=%v err=%v", found, err)
	}
	found, err = s2.RemovePriorityVoice("nobody")
	if err != nil || found {
		t.Errorf("Expected not-found removal to be a no-op, found=%v err=%v", found, err)
	}
}

func TestAddFilterWords_Dedupes(t *testing.T) {
	dir := newTestDir(t)
	writeStore(t, dir, "filter.json", `{"word_filter":["Heck"],"filter_replies":[]}`)
	s, err := OpenSettings(dir)
	if err != nil {
		t.Fatalf("OpenSettings failed: %v", err)
	}

	added, err := s.AddFilterWords([]string{"heck", "darn", "darn", ""})
	if err != nil {
		t.Fatalf("AddFilterWords failed: %v", err)
	}
	if len(added) != 1 || added[0] != "darn" {
		t.Errorf("Expected only darn added, got %v", added)
	}

	words := s.Snapshot().Filter.Words
	if len(words) != 2 {
		t.Errorf("Expected 2 words, got %v", words)
	}
}
