// Package playback owns the ordered audio queue and the single
// consumer that renders items to the sound device, one at a time, in
// the exact order they were appended.
package playback
