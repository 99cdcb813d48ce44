// Package chat defines the inbound chat event model and the frame
// parsing rules for the event stream. Frames are UTF-8 JSON; the
// parser tolerates the loose typing the upstream feed is known for.
package chat
