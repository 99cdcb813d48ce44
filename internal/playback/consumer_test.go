package playback

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubDecode pretends every audio buffer decodes to itself at 44.1k.
func stubDecode(data []byte) ([]byte, int, error) {
	return data, 44100, nil
}

func newTestConsumer(q *Queue, p Player) *Consumer {
	c := NewConsumer(q, p, &Transcoder{})
	c.decode = stubDecode
	return c
}

func TestConsumerPlaysInQueueOrder(t *testing.T) {
	q := NewQueue()
	player := NewMockPlayer()
	c := newTestConsumer(q, player)

	for _, id := range []string{"1", "2", "3"} {
		q.Enqueue(&Item{ID: id, Audio: []byte(id), Speed: 1, Volume: 1})
	}
	q.Close()

	c.Run(context.Background())

	plays := player.Plays()
	if len(plays) != 3 {
		t.Fatalf("Expected 3 plays, got %d", len(plays))
	}
	for i, want := range []string{"1", "2", "3"} {
		if string(plays[i].PCM) != want {
			t.Errorf("Play %d = %q, want %q", i, plays[i].PCM, want)
		}
	}
}

func TestConsumerSkipsUndecodableItem(t *testing.T) {
	q := NewQueue()
	player := NewMockPlayer()
	c := NewConsumer(q, player, &Transcoder{})
	c.decode = func(data []byte) ([]byte, int, error) {
		if string(data) == "bad" {
			return nil, 0, errors.New("not mp3")
		}
		return data, 44100, nil
	}

	q.Enqueue(&Item{ID: "a", Audio: []byte("bad"), Speed: 1, Volume: 1})
	q.Enqueue(&Item{ID: "b", Audio: []byte("good"), Speed: 1, Volume: 1})
	q.Close()

	c.Run(context.Background())

	plays := player.Plays()
	if len(plays) != 1 || string(plays[0].PCM) != "good" {
		t.Errorf("Expected only the good item to play, got %v", plays)
	}
}

func TestConsumerFallsBackWhenTranscoderUnavailable(t *testing.T) {
	q := NewQueue()
	player := NewMockPlayer()
	c := newTestConsumer(q, player)

	// Non-unity speed with no ffmpeg available plays unmodified.
	q.Enqueue(&Item{ID: "a", Audio: []byte("fast"), Speed: 1.5, Volume: 1})
	q.Close()

	c.Run(context.Background())

	plays := player.Plays()
	if len(plays) != 1 || string(plays[0].PCM) != "fast" {
		t.Errorf("Expected unmodified playback, got %v", plays)
	}
}

func TestConsumerClearLeavesCurrentPlaying(t *testing.T) {
	q := NewQueue()
	player := NewMockPlayer()
	player.Block()
	c := newTestConsumer(q, player)

	q.Enqueue(&Item{ID: "current", Audio: []byte("x"), Speed: 1, Volume: 1})
	q.Enqueue(&Item{ID: "queued", Audio: []byte("y"), Speed: 1, Volume: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// Wait until the first item is inside Play.
	deadline := time.After(2 * time.Second)
	for len(player.Plays()) == 0 {
		select {
		case <-deadline:
			t.Fatal("First item never started playing")
		case <-time.After(5 * time.Millisecond):
		}
	}

	q.Clear()
	player.Release()
	q.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Consumer did not finish")
	}

	plays := player.Plays()
	if len(plays) != 1 {
		t.Fatalf("Expected only the in-flight item to play, got %d plays", len(plays))
	}
	if string(plays[0].PCM) != "x" {
		t.Errorf("Playing item = %q, want %q", plays[0].PCM, "x")
	}
}

func TestAtempoChain(t *testing.T) {
	tests := []struct {
		speed float64
		want  string
	}{
		{1.0, "atempo=1.0000"},
		{1.5, "atempo=1.5000"},
		{3.0, "atempo=2.0,atempo=1.5000"},
		{0.25, "atempo=0.5,atempo=0.5000"},
		{0, "atempo=1.0000"},
	}
	for _, tt := range tests {
		if got := atempoChain(tt.speed); got != tt.want {
			t.Errorf("atempoChain(%v) = %q, want %q", tt.speed, got, tt.want)
		}
	}
}
