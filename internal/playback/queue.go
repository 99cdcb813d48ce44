package playback

import (
	"sync"

	"github.com/charmbracelet/log"
)

// Item is one fully synthesized message waiting to be played. Audio
// holds MP3 bytes as returned by the synthesis API.
type Item struct {
	ID      string
	Speaker string
	Text    string
	Audio   []byte
	Speed   float64
	Volume  float64
}

// Queue is a FIFO of synthesized audio with blocking dequeue. It is
// safe for any number of producers and consumers, though the pipeline
// runs exactly one consumer.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Item
	closed bool
}

// NewQueue creates an empty open queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends an item. Items enqueued after Close are dropped.
func (q *Queue) Enqueue(item *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		log.Debug("playback queue closed, item dropped", "id", item.ID)
		return
	}
	q.items = append(q.items, item)
	q.cond.Signal()
}

// Dequeue blocks until an item is available or the queue is closed.
// The second return is false only when the queue is closed and empty.
func (q *Queue) Dequeue() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Clear atomically drops every queued item and reports how many were
// dropped. The item currently playing, if any, is unaffected because
// it has already left the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := len(q.items)
	q.items = nil
	q.mu.Unlock()
	if dropped > 0 {
		log.Info("playback queue cleared", "dropped", dropped)
	}
}

// Depth reports the number of queued, not yet started items.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes any blocked consumer. Already
// queued items remain dequeueable.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
