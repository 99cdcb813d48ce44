package playback

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
)

// Transcoded audio is normalized to this format so the device context
// never has to change.
const (
	transcodeSampleRate = 44100
	transcodeChannels   = 2
)

// Transcoder adjusts tempo and gain by piping MP3 bytes through
// ffmpeg. When ffmpeg is not installed the transcoder reports itself
// unavailable and the consumer plays items unmodified.
type Transcoder struct {
	path string
}

// NewTranscoder probes for ffmpeg on PATH.
func NewTranscoder() *Transcoder {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		log.Warn("ffmpeg not found, speed and volume adjustments disabled")
		return &Transcoder{}
	}
	return &Transcoder{path: path}
}

// Available reports whether transcoding can be attempted.
func (t *Transcoder) Available() bool {
	return t.path != ""
}

// Transcode returns raw signed 16-bit PCM at the normalized format
// with the given tempo and gain applied.
func (t *Transcoder) Transcode(ctx context.Context, mp3Data []byte, speed, volume float64) ([]byte, error) {
	if !t.Available() {
		return nil, fmt.Errorf("ffmpeg unavailable")
	}

	filter := fmt.Sprintf("%s,volume=%.3f", atempoChain(speed), volume)
	cmd := exec.CommandContext(ctx, t.path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-af", filter,
		"-f", "s16le",
		"-ar", fmt.Sprint(transcodeSampleRate),
		"-ac", fmt.Sprint(transcodeChannels),
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(mp3Data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no audio")
	}
	return stdout.Bytes(), nil
}

// atempoChain builds the tempo filter. A single atempo stage only
// covers 0.5x to 2.0x, so values outside that range are chained.
func atempoChain(speed float64) string {
	if speed <= 0 {
		speed = 1
	}
	var stages []string
	for speed > 2.0 {
		stages = append(stages, "atempo=2.0")
		speed /= 2.0
	}
	for speed < 0.5 {
		stages = append(stages, "atempo=0.5")
		speed /= 0.5
	}
	stages = append(stages, fmt.Sprintf("atempo=%.4f", speed))
	return strings.Join(stages, ",")
}
