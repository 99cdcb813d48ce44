package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
)

// Player renders one buffer of signed 16-bit little-endian PCM to the
// audio device and returns when playback finishes or ctx is canceled.
type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate, channels int) error
	Close() error
}

// OtoPlayer is the production Player. The underlying audio context is
// created on first use; its sample rate and channel count are fixed
// from that first buffer because the device context cannot be rebuilt.
type OtoPlayer struct {
	mu         sync.Mutex
	ctx        *oto.Context
	sampleRate int
	channels   int
}

// NewOtoPlayer returns a Player backed by the system audio device.
func NewOtoPlayer() *OtoPlayer {
	return &OtoPlayer{}
}

func (p *OtoPlayer) context(sampleRate, channels int) (*oto.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx != nil {
		if sampleRate != p.sampleRate || channels != p.channels {
			log.Warn("audio format differs from device context",
				"got_rate", sampleRate, "ctx_rate", p.sampleRate,
				"got_channels", channels, "ctx_channels", p.channels)
		}
		return p.ctx, nil
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready
	p.ctx = ctx
	p.sampleRate = sampleRate
	p.channels = channels
	return ctx, nil
}

// Play blocks until the buffer has drained. On cancellation the player
// is closed immediately, cutting the sound off.
func (p *OtoPlayer) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	if len(pcm) == 0 {
		return nil
	}
	octx, err := p.context(sampleRate, channels)
	if err != nil {
		return err
	}

	player := octx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close releases the device. Safe to call before first use.
func (p *OtoPlayer) Close() error {
	return nil
}

// decodeMP3 decodes an MP3 buffer into 16-bit stereo PCM at the
// stream's native sample rate.
func decodeMP3(data []byte) (pcm []byte, sampleRate int, err error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("mp3 decode: %w", err)
	}
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("mp3 read: %w", err)
	}
	return out, dec.SampleRate(), nil
}
