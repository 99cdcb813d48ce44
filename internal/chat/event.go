package chat

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrNotChatFrame is returned for well-formed frames that are not chat events.
	ErrNotChatFrame = errors.New("frame is not a chat event")

	// ErrMalformedFrame is returned when a frame cannot be decoded at all.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Event is a single inbound chat message. Events are ephemeral: one is
// constructed per accepted frame and never persisted.
type Event struct {
	// Identity is the sender's unique handle as delivered by the stream.
	Identity string

	// Text is the raw message text.
	Text string

	IsModerator  bool
	IsSubscriber bool

	// GifterRank is the sender's top-gifter rank (1..5), nil when absent.
	GifterRank *int

	// FollowRole is 0 (not following), 1 (following) or 2 (friend).
	FollowRole int
}

// frame is the envelope shape of an inbound stream frame.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseFrame decodes a raw frame into an Event.
//
// A frame is a chat event if it carries `{"event":"chat","data":{...}}`,
// or, as a fallback, if a comment-bearing object sits at the root.
// Booleans arrive as JSON bools, the strings "true"/"false", or numbers;
// all three forms are accepted.
func ParseFrame(raw []byte) (Event, error) {
	var env frame
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, errors.Join(ErrMalformedFrame, err)
	}

	var data json.RawMessage
	switch {
	case env.Event == "chat" && len(env.Data) > 0:
		data = env.Data
	default:
		// Fallback: chat fields directly at the root.
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			return Event{}, errors.Join(ErrMalformedFrame, err)
		}
		if _, ok := probe["comment"]; !ok {
			return Event{}, ErrNotChatFrame
		}
		data = raw
	}

	var fields struct {
		Nickname      string          `json:"nickname"`
		UniqueID      string          `json:"uniqueId"`
		Comment       string          `json:"comment"`
		IsModerator   json.RawMessage `json:"isModerator"`
		IsSubscriber  json.RawMessage `json:"isSubscriber"`
		TopGifterRank json.RawMessage `json:"topGifterRank"`
		FollowRole    int             `json:"followRole"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return Event{}, errors.Join(ErrMalformedFrame, err)
	}

	identity := fields.Nickname
	if identity == "" {
		identity = fields.UniqueID
	}

	ev := Event{
		Identity:     identity,
		Text:         fields.Comment,
		IsModerator:  looseBool(fields.IsModerator),
		IsSubscriber: looseBool(fields.IsSubscriber),
		GifterRank:   gifterRank(fields.TopGifterRank),
		FollowRole:   fields.FollowRole,
	}
	return ev, nil
}

// looseBool decodes the feed's bool-ish values: true/false, "true"/"false",
// or any nonzero number.
func looseBool(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(strings.TrimSpace(s), "true")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0
	}
	return false
}

// gifterRank accepts an integer or numeric string in 1..5; anything else
// (absent, null, out of range) yields nil.
func gifterRank(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		var err2 error
		n, err2 = parseInt(s)
		if err2 != nil {
			return nil
		}
	}
	if n < 1 || n > 5 {
		return nil
	}
	return &n
}

func parseInt(s string) (int, error) {
	var n int
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &n); err != nil {
		return 0, err
	}
	return n, nil
}
