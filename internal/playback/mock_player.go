package playback

import (
	"context"
	"sync"
)

// MockPlayer records plays instead of touching the audio device. Used
// in tests and available for headless runs.
type MockPlayer struct {
	mu     sync.Mutex
	plays  []MockPlay
	gate   chan struct{}
	err    error
	closed bool
}

// MockPlay captures the arguments of one Play call.
type MockPlay struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// NewMockPlayer creates an unblocked mock that accepts every play.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{}
}

// Block makes subsequent Play calls wait until Release is called.
func (m *MockPlayer) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
}

// Release unblocks a pending or future Play.
func (m *MockPlayer) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// FailWith makes every subsequent Play return err.
func (m *MockPlayer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockPlayer) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	m.mu.Lock()
	m.plays = append(m.plays, MockPlay{PCM: pcm, SampleRate: sampleRate, Channels: channels})
	gate := m.gate
	err := m.err
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Plays returns a copy of the recorded plays in call order.
func (m *MockPlayer) Plays() []MockPlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockPlay(nil), m.plays...)
}

func (m *MockPlayer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
