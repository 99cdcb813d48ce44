// Package pipeline decides, per chat event, whether and how the
// message is vocalized. The decision path is deterministic given a
// settings snapshot; the only randomness (canned-reply selection) is
// injected so tests can pin it.
package pipeline
