// Package tts turns text chunks into MP3 audio via external synthesis
// HTTP endpoints, with per-chunk endpoint failover and bounded retry.
package tts
