// Package dispatch runs the bounded synthesis worker pool. Jobs are
// accepted FIFO, synthesized concurrently, and their audio is appended
// to the playback queue in original submission order even when a later
// job finishes first.
package dispatch
