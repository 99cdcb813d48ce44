package pipeline

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"

	"github.com/chatvox/chatvox/internal/chat"
	"github.com/chatvox/chatvox/internal/config"
)

// Moderator command prefixes. Any message opening with one of these is
// consumed by the command layer and never reaches synthesis.
const (
	cmdAddVoice    = "!vadd"
	cmdChangeVoice = "!vchange"
	cmdRemoveVoice = "!vremove"
	cmdSetName     = "!vname"
	cmdClearName   = "!vnoname"
	cmdAddBadWords = "!vrude"
	cmdClearQueue  = "!restart"
)

var commandPrefixes = []string{
	cmdAddVoice, cmdChangeVoice, cmdRemoveVoice,
	cmdSetName, cmdClearName, cmdAddBadWords, cmdClearQueue,
}

// isCommand reports whether text opens with a recognized command prefix.
func isCommand(text string) bool {
	text = strings.TrimSpace(text)
	for _, p := range commandPrefixes {
		if hasPrefixFold(text, p) {
			return true
		}
	}
	return false
}

// HandleCommand consumes moderator commands. It returns true when the
// event was a command (handled or deliberately swallowed) and must not
// reach the speak path. Unauthorized or disabled attempts return true
// without side effects.
func (e *Engine) HandleCommand(snap *config.Snapshot, ev chat.Event) bool {
	text := strings.TrimSpace(ev.Text)
	if !isCommand(text) {
		return false
	}

	// Queue clear stands apart: gated on moderator plus an externally
	// armed emergency flag, not on the commands-enabled setting.
	if hasPrefixFold(text, cmdClearQueue) {
		switch {
		case !ev.IsModerator:
			log.Debug("queue clear ignored: not a moderator", "identity", ev.Identity)
		case !e.emergencyArmed():
			log.Debug("queue clear ignored: emergency stop not armed", "identity", ev.Identity)
		default:
			e.queue.Clear()
			log.Info("playback queue cleared", "by", ev.Identity)
		}
		return true
	}

	if !snap.Options.CommandsEnabled {
		return true
	}
	if !ev.IsModerator {
		// Swallowed: command-shaped messages from non-moderators must
		// not be spoken either.
		return true
	}

	switch {
	case hasPrefixFold(text, cmdChangeVoice):
		e.handleAssignVoice(ev.Identity, strings.TrimSpace(text[len(cmdChangeVoice):]), cmdChangeVoice)
	case hasPrefixFold(text, cmdAddVoice):
		e.handleAssignVoice(ev.Identity, strings.TrimSpace(text[len(cmdAddVoice):]), cmdAddVoice)
	case hasPrefixFold(text, cmdRemoveVoice):
		target := strings.TrimPrefix(strings.TrimSpace(text[len(cmdRemoveVoice):]), "@")
		if target == "" {
			return true
		}
		found, err := e.settings.RemovePriorityVoice(target)
		if err != nil {
			log.Error("remove priority voice failed", "target", target, "err", err)
		} else if found {
			log.Info("priority voice removed", "by", ev.Identity, "target", target)
		}
	case hasPrefixFold(text, cmdClearName):
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return true
		}
		target := strings.TrimPrefix(fields[1], "@")
		found, err := e.settings.RemoveNameOverride(target)
		if err != nil {
			log.Error("remove name override failed", "target", target, "err", err)
		} else if found {
			log.Info("name override removed", "by", ev.Identity, "target", target)
		}
	case hasPrefixFold(text, cmdSetName):
		e.handleSetName(ev.Identity, text[len(cmdSetName):])
	case hasPrefixFold(text, cmdAddBadWords):
		words := strings.Fields(text)[1:]
		if len(words) == 0 {
			return true
		}
		added, err := e.settings.AddFilterWords(words)
		if err != nil {
			log.Error("add filter words failed", "err", err)
		} else if len(added) > 0 {
			log.Info("filter words added", "by", ev.Identity, "words", strings.Join(added, ", "))
		}
	}
	return true
}

// handleAssignVoice parses "<target name> VOICE [speed]" and persists
// the override. Target names may contain spaces; the voice token is
// assumed to be the second-to-last token when the last one parses as a
// speed, otherwise the last token. A rescue scan for the rightmost
// ALLCAPS token covers mis-detected layouts.
func (e *Engine) handleAssignVoice(by, args, cmd string) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return
	}

	var speed *float64
	voiceIdx := len(parts) - 1
	if len(parts) >= 3 {
		if sp, err := strconv.ParseFloat(parts[len(parts)-1], 64); err == nil {
			speed = &sp
			voiceIdx = len(parts) - 2
		}
	}
	voice := parts[voiceIdx]
	target := strings.TrimPrefix(strings.Join(parts[:voiceIdx], " "), "@")

	if target == "" || len(voice) <= 1 {
		voice, speed, target = rescueVoiceParse(parts)
	}
	if target == "" || voice == "" {
		return
	}

	ov := config.VoiceOverride{Voice: voice, Speed: speed}
	if err := e.settings.SetPriorityVoice(target, ov); err != nil {
		log.Error("set priority voice failed", "target", target, "err", err)
		return
	}
	log.Info("priority voice set",
		"cmd", cmd, "by", by, "target", target, "voice", voice, "speed", speedLabel(speed))
}

// rescueVoiceParse scans right-to-left for an ALLCAPS voice token and
// rebuilds target and speed around it.
func rescueVoiceParse(parts []string) (voice string, speed *float64, target string) {
	for i := len(parts) - 1; i >= 1; i-- {
		if len(parts[i]) > 1 && isUpperToken(parts[i]) {
			voice = parts[i]
			if i+1 < len(parts) {
				if sp, err := strconv.ParseFloat(parts[i+1], 64); err == nil {
					speed = &sp
				}
			}
			target = strings.TrimPrefix(strings.Join(parts[:i], " "), "@")
			return voice, speed, target
		}
	}
	return "", nil, ""
}

// isUpperToken reports whether the token is all uppercase letters,
// digits, or underscores.
func isUpperToken(s string) bool {
	for _, r := range s {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return s != ""
}

// handleSetName parses "<original> - <display>" and persists the
// display-name override.
func (e *Engine) handleSetName(by, args string) {
	idx := strings.Index(args, " - ")
	if idx < 0 {
		return
	}
	original := strings.TrimPrefix(strings.TrimSpace(args[:idx]), "@")
	display := strings.TrimSpace(args[idx+3:])
	if original == "" || display == "" {
		return
	}
	if err := e.settings.SetNameOverride(original, display); err != nil {
		log.Error("set name override failed", "target", original, "err", err)
		return
	}
	log.Info("name override set", "by", by, "target", original, "display", display)
}
