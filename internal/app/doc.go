// Package app assembles the chat-to-speech pipeline and owns its
// lifecycle: stream intake stops first, then synthesis drains, then
// playback, then the activity tracker persists its final state.
package app
