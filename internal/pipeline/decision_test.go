package pipeline

import (
	"testing"

	"github.com/chatvox/chatvox/internal/chat"
	"github.com/chatvox/chatvox/internal/config"
)

type fakeQueue struct {
	clears int
}

func (f *fakeQueue) Clear() { f.clears++ }

func testSnapshot() *config.Snapshot {
	return &config.Snapshot{
		Options: config.Options{
			Trigger: "!tts",
			VoiceMap: map[string]string{
				"Default":       "Narrator",
				"Subscriber":    "Ghostface",
				"Moderator":     "Stitch",
				"Top Gifter 1":  "Chewbacca",
				"Top Gifter 3":  "Rocket",
				"Follow Role 0": "Stormtrooper",
				"Follow Role 1": "C3PO",
				"Follow Role 2": "Trickster",
				"BadWordVoice":  "Madame Leota",
			},
		},
		Filter: config.Filter{
			Words:   []string{"forbidden", "Heck"},
			Replies: []string{"tried something naughty", "wants attention"},
		},
		Users: config.Users{
			Priority: map[string]config.VoiceOverride{},
			NameSwap: map[string]string{},
		},
	}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	return NewEngine(nil, &fakeQueue{}, append([]Option{WithRand(func(int) int { return 0 })}, opts...)...)
}

func event(identity, text string) chat.Event {
	return chat.Event{Identity: identity, Text: text}
}

func TestDecide_FollowRoleMapping(t *testing.T) {
	e := newTestEngine(t)
	snap := testSnapshot()

	for role, want := range map[int]string{0: "Stormtrooper", 1: "C3PO", 2: "Trickster"} {
		ev := event("viewer", "hello")
		ev.FollowRole = role
		dec := e.Decide(snap, ev)
		if !dec.ShouldSpeak || dec.Voice != want {
			t.Errorf("Follow role %d: expected voice %q, got %+v", role, want, dec)
		}
	}
}

func TestDecide_RolePrecedence(t *testing.T) {
	e := newTestEngine(t)
	snap := testSnapshot()
	rank := 3

	tests := []struct {
		name string
		ev   chat.Event
		want string
	}{
		{"subscriber beats moderator", chat.Event{Identity: "u", Text: "hi", IsSubscriber: true, IsModerator: true}, "Ghostface"},
		{"moderator beats gifter", chat.Event{Identity: "u", Text: "hi", IsModerator: true, GifterRank: &rank}, "Stitch"},
		{"gifter beats follow role", chat.Event{Identity: "u", Text: "hi", GifterRank: &rank, FollowRole: 2}, "Rocket"},
		{"unmapped gifter falls to follow role", chat.Event{Identity: "u", Text: "hi", GifterRank: intPtr(5), FollowRole: 2}, "Trickster"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := e.Decide(snap, tt.ev)
			if dec.Voice != tt.want {
				t.Errorf("Expected voice %q, got %q", tt.want, dec.Voice)
			}
		})
	}
}

func TestDecide_PriorityVoiceWins(t *testing.T) {
	e := newTestEngine(t)
	snap := testSnapshot()
	speed := 1.5
	snap.Users.Priority["vip"] = config.VoiceOverride{Voice: "Wizard", Speed: &speed}

	ev := event("vip", "hello")
	ev.IsSubscriber = true
	dec := e.Decide(snap, ev)

	if dec.Voice != "Wizard" {
		t.Errorf("Expected priority voice Wizard, got %q", dec.Voice)
	}
	if dec.Speed == nil || *dec.Speed != 1.5 {
		t.Errorf("Expected priority speed 1.5, got %v", dec.Speed)
	}
}

func TestDecide_FilterForcesReplyAndDefaultSpeed(t *testing.T) {
	e := newTestEngine(t)
	snap := testSnapshot()
	speed := 2.0
	snap.Users.Priority["vip"] = config.VoiceOverride{Voice: "Wizard", Speed: &speed}

	// Case-insensitive substring match, priority speed discarded.
	dec := e.Decide(snap, event("vip", "this is FORBIDDEN content"))

	if !dec.ShouldSpeak {
		t.Fatalf("Filtered messages must still speak: %+v", dec)
	}
	if dec.Text == "this is FORBIDDEN content" {
		t.Error("Filtered text must be replaced")
	}
	if dec.Text != ", tried something naughty" {
		t.Errorf("Unexpected canned reply: %q", dec.Text)
	}
	if dec.Voice != "Madame Leota" {
		t.Errorf("Expected BadWordVoice, got %q", dec.Voice)
	}
	if dec.Speed != nil {
		t.Errorf("Filtered replies must use default speed, got %v", *dec.Speed)
	}
}

func TestDecide_FilterFallsBackToDefaultVoice(t *testing.T) {
	e := newTestEngine(t)
	snap := testSnapshot()
	delete(snap.Options.VoiceMap, "BadWordVoice")

	dec := e.Decide(snap, event("viewer", "heck this"))
	if dec.Voice != "Narrator" {
		t.Errorf("Expected Default fallback, got %q", dec.Voice)
	}
}

func TestDecide_FilterWithEmptyReplyList(t *testing.T) {
	e := newTestEngine(t)
	snap := testSnapshot()
	snap.Filter.Replies = nil

	dec := e.Decide(snap, event("viewer", "forbidden"))
	if dec.Text != ", is trying to make me say a bad word" {
		t.Errorf("Expected built-in reply, got %q", dec.Text)
	}
}

func TestDecide_TriggerGate(t *testing.T) {
	e := newTestEngine(t)
	snap := testSnapshot()
	snap.Options.CommandsOnly = true
	snap.Users.Priority["vip"] = config.VoiceOverride{Voice: "Wizard"}

	// Priority voice holders are gated too.
	dec := e.Decide(snap, event("vip", "no trigger here"))
	if dec.ShouldSpeak {
		t.Fatal("Expected gated skip")
	}
	if dec.SkipReason == "" {
		t.Error("Gated skip must carry a reason")
	}

	// Trigger present: stripped before synthesis.
	dec = e.Decide(snap, event("vip", "!tts  hello world"))
	if !dec.ShouldSpeak {
		t.Fatalf("Expected speak with trigger: %+v", dec)
	}
	if dec.Text != "hello world" {
		t.Errorf("Trigger not stripped: %q", dec.Text)
	}
}

func TestDecide_MutedVoiceSkips(t *testing.T) {
	e := newTestEngine(t)
	snap := testSnapshot()
	snap.Options.VoiceMap["Follow Role 0"] = "NONE"

	dec := e.Decide(snap, event("viewer", "hello"))
	if dec.ShouldSpeak {
		t.Fatal("Expected muted skip")
	}
	if dec.SkipReason != "voice explicitly muted" {
		t.Errorf("Unexpected skip reason: %q", dec.SkipReason)
	}
}

func TestDecide_FallbackVoiceChain(t *testing.T) {
	e := newTestEngine(t)
	snap := testSnapshot()
	snap.Options.VoiceMap = map[string]string{}

	dec := e.Decide(snap, event("viewer", "hello"))
	if dec.Voice != config.FallbackVoice {
		t.Errorf("Expected hard fallback %q, got %q", config.FallbackVoice, dec.Voice)
	}

	snap.Options.VoiceMap = map[string]string{"Default": "Narrator"}
	dec = e.Decide(snap, event("viewer", "hello"))
	if dec.Voice != "Narrator" {
		t.Errorf("Expected configured default, got %q", dec.Voice)
	}
}

func TestDecide_NameOverride(t *testing.T) {
	e := newTestEngine(t)
	snap := testSnapshot()
	snap.Users.NameSwap["viewer"] = "The Chosen One"

	dec := e.Decide(snap, event("viewer", "hello"))
	if dec.DisplayName != "The Chosen One" {
		t.Errorf("Expected overridden display name, got %q", dec.DisplayName)
	}

	// Applies to gated skips as well.
	snap.Options.CommandsOnly = true
	dec = e.Decide(snap, event("viewer", "no trigger"))
	if dec.DisplayName != "The Chosen One" {
		t.Errorf("Expected override on skip record, got %q", dec.DisplayName)
	}
}

func intPtr(n int) *int { return &n }
