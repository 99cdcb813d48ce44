package pipeline

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/chatvox/chatvox/internal/chat"
	"github.com/chatvox/chatvox/internal/config"
)

// fallbackReply is spoken when a filtered word matches but no canned
// replies are configured.
const fallbackReply = "is trying to make me say a bad word"

// Decision is the outcome of running one chat event through the engine.
// It is consumed exactly once by the synthesis dispatcher.
type Decision struct {
	ShouldSpeak bool
	DisplayName string
	Text        string
	Voice       string

	// Speed is a per-message override; nil means "use the configured
	// default playback speed".
	Speed *float64

	// SkipReason is set when ShouldSpeak is false.
	SkipReason string
}

// QueueClearer drops all not-yet-playing queued audio.
type QueueClearer interface {
	Clear()
}

// Engine maps chat events to decisions and handles moderator commands.
type Engine struct {
	settings *config.Settings
	queue    QueueClearer

	// randInt picks the canned reply; replaceable in tests.
	randInt func(n int) int

	emergencyArmed func() bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand substitutes the canned-reply random source.
func WithRand(fn func(n int) int) Option {
	return func(e *Engine) { e.randInt = fn }
}

// WithEmergencyArmed supplies the external arming check for the
// queue-clear command.
func WithEmergencyArmed(fn func() bool) Option {
	return func(e *Engine) { e.emergencyArmed = fn }
}

// NewEngine creates a decision engine over the given settings and
// playback queue.
func NewEngine(settings *config.Settings, queue QueueClearer, opts ...Option) *Engine {
	e := &Engine{
		settings:       settings,
		queue:          queue,
		randInt:        rand.Intn,
		emergencyArmed: func() bool { return false },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide maps one event plus one settings snapshot to a Decision. It is
// pure apart from the injected random source and never panics; internal
// failures degrade to a skip with a reason.
func (e *Engine) Decide(snap *config.Snapshot, ev chat.Event) (dec Decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("decision engine recovered", "identity", ev.Identity, "panic", r)
			dec = Decision{SkipReason: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	text := ev.Text
	display := ev.Identity
	lowerText := strings.ToLower(ev.Text)

	override, hasPriority := snap.Users.Priority[ev.Identity]

	// Commands-only gate. Runs identically for priority and role paths;
	// the display-name override still applies to the skip record.
	if snap.Options.CommandsOnly {
		trigger := snap.Options.Trigger
		if !hasPrefixFold(text, trigger) {
			if swapped, ok := snap.Users.NameSwap[ev.Identity]; ok {
				display = swapped
			}
			return Decision{DisplayName: display, SkipReason: "gate: trigger required"}
		}
		text = strings.TrimLeft(text[len(trigger):], " ")
	}

	// Bad-word filter before any display-name resolution, on the
	// original text. Filtered replies always play at the default speed.
	if reply, matched := e.filterText(snap, lowerText); matched {
		if swapped, ok := snap.Users.NameSwap[ev.Identity]; ok {
			display = swapped
		}
		voice := snap.Options.VoiceMap[config.VoiceMapBadWord]
		return Decision{
			ShouldSpeak: true,
			DisplayName: display,
			Text:        reply,
			Voice:       e.ensureVoice(snap, voice),
		}
	}

	if swapped, ok := snap.Users.NameSwap[ev.Identity]; ok {
		display = swapped
	}

	if hasPriority {
		voice := e.ensureVoice(snap, override.Voice)
		log.Debug("priority voice", "identity", ev.Identity, "voice", voice, "speed", speedLabel(override.Speed))
		return Decision{
			ShouldSpeak: true,
			DisplayName: display,
			Text:        text,
			Voice:       voice,
			Speed:       override.Speed,
		}
	}

	voice := resolveRoleVoice(snap, ev)
	log.Debug("role voice",
		"identity", ev.Identity,
		"sub", ev.IsSubscriber,
		"mod", ev.IsModerator,
		"followRole", ev.FollowRole,
		"voice", voice)

	if voice == config.MutedVoice {
		return Decision{DisplayName: display, SkipReason: "voice explicitly muted"}
	}

	return Decision{
		ShouldSpeak: true,
		DisplayName: display,
		Text:        text,
		Voice:       e.ensureVoice(snap, voice),
	}
}

// filterText reports whether the lowercased text contains a filtered
// term and, if so, returns the canned replacement.
func (e *Engine) filterText(snap *config.Snapshot, lowerText string) (string, bool) {
	for _, w := range snap.Filter.Words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if strings.Contains(lowerText, strings.ToLower(w)) {
			reply := fallbackReply
			if n := len(snap.Filter.Replies); n > 0 {
				reply = snap.Filter.Replies[e.randInt(n)]
			}
			return ", " + reply, true
		}
	}
	return "", false
}

// resolveRoleVoice walks the role precedence order: subscriber,
// moderator, gifter rank, follow role, default.
func resolveRoleVoice(snap *config.Snapshot, ev chat.Event) string {
	vm := snap.Options.VoiceMap
	if ev.IsSubscriber {
		if v, ok := vm[config.VoiceMapSubscriber]; ok && v != "" {
			return v
		}
	}
	if ev.IsModerator {
		if v, ok := vm[config.VoiceMapModerator]; ok && v != "" {
			return v
		}
	}
	if ev.GifterRank != nil {
		if v, ok := vm[fmt.Sprintf("Top Gifter %d", *ev.GifterRank)]; ok && v != "" {
			return v
		}
	}
	if v, ok := vm[fmt.Sprintf("Follow Role %d", ev.FollowRole)]; ok && v != "" {
		return v
	}
	return vm[config.VoiceMapDefault]
}

// ensureVoice falls back to the configured default and then the
// hard-coded fallback; it never returns an empty voice.
func (e *Engine) ensureVoice(snap *config.Snapshot, voice string) string {
	if strings.TrimSpace(voice) != "" {
		return voice
	}
	if v := snap.Options.VoiceMap[config.VoiceMapDefault]; strings.TrimSpace(v) != "" {
		return v
	}
	return config.FallbackVoice
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func speedLabel(speed *float64) string {
	if speed == nil {
		return "default"
	}
	return fmt.Sprintf("%.3g", *speed)
}
