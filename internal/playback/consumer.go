package playback

import (
	"context"
	"math"

	"github.com/charmbracelet/log"
)

// Consumer drains the queue one item at a time, applying the item's
// speed and volume when a transcoder is available. A failed item is
// logged and skipped; the loop never stops on playback errors.
type Consumer struct {
	queue      *Queue
	player     Player
	transcoder *Transcoder

	// decode is replaceable in tests so consumer behavior can be
	// exercised without real MP3 fixtures.
	decode func([]byte) (pcm []byte, sampleRate int, err error)

	done chan struct{}
}

// NewConsumer wires a consumer to its queue and output device.
func NewConsumer(queue *Queue, player Player, transcoder *Transcoder) *Consumer {
	return &Consumer{
		queue:      queue,
		player:     player,
		transcoder: transcoder,
		decode:     decodeMP3,
		done:       make(chan struct{}),
	}
}

// Run plays items until the queue closes or ctx is canceled. It must
// be called exactly once.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)
	for {
		if ctx.Err() != nil {
			return
		}
		item, ok := c.queue.Dequeue()
		if !ok {
			return
		}
		c.playItem(ctx, item)
	}
}

// Done is closed when the consumer loop has exited.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

func (c *Consumer) playItem(ctx context.Context, item *Item) {
	log.Debug("playing item",
		"id", item.ID, "speaker", item.Speaker,
		"speed", item.Speed, "volume", item.Volume,
		"depth", c.queue.Depth())

	if needsTranscode(item) && c.transcoder.Available() {
		pcm, err := c.transcoder.Transcode(ctx, item.Audio, item.Speed, item.Volume)
		if err == nil {
			if err := c.player.Play(ctx, pcm, transcodeSampleRate, transcodeChannels); err != nil && ctx.Err() == nil {
				log.Error("playback failed", "id", item.ID, "err", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn("transcode failed, playing unmodified", "id", item.ID, "err", err)
	}

	pcm, rate, err := c.decode(item.Audio)
	if err != nil {
		log.Error("audio decode failed, item dropped", "id", item.ID, "err", err)
		return
	}
	if err := c.player.Play(ctx, pcm, rate, 2); err != nil && ctx.Err() == nil {
		log.Error("playback failed", "id", item.ID, "err", err)
	}
}

// needsTranscode reports whether the item deviates from unity speed
// and volume enough to warrant an ffmpeg pass.
func needsTranscode(item *Item) bool {
	return math.Abs(item.Speed-1.0) > 0.001 || math.Abs(item.Volume-1.0) > 0.001
}
