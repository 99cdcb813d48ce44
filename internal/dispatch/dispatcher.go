package dispatch

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/chatvox/chatvox/internal/config"
	"github.com/chatvox/chatvox/internal/playback"
)

// jobBuffer bounds how many accepted jobs may wait for a worker. A
// full buffer drops new jobs; delivery is best-effort.
const jobBuffer = 64

// Synthesizer turns one job's text into a single audio buffer.
type Synthesizer interface {
	Synthesize(ctx context.Context, display, text, voice string) ([]byte, error)
}

// Job is one accepted speak request. Voice must already be resolved to
// an API voice code. A nil Speed means the configured default.
type Job struct {
	ID      string
	Speaker string
	Text    string
	Voice   string
	Speed   *float64
}

// Dispatcher owns the job queue and the worker pool. Ordering is kept
// by reserving a playback slot at schedule time: each job gets a
// one-shot result channel pushed onto an ordered stream, and a single
// appender drains that stream in order, blocking on the oldest
// unfinished job.
type Dispatcher struct {
	engine Synthesizer
	queue  *playback.Queue

	jobs         chan *Job
	reservations chan chan *playback.Item
	sem          chan struct{}

	defaultSpeed  float64
	defaultVolume float64

	closeOnce sync.Once
}

// NewDispatcher builds a dispatcher over the given synthesis engine
// and playback queue.
func NewDispatcher(engine Synthesizer, queue *playback.Queue, syn config.SynthesisConfig, play config.PlaybackConfig) *Dispatcher {
	workers := syn.MaxInFlightJobs
	if workers < 1 {
		workers = config.DefaultMaxInFlightJobs
	}
	return &Dispatcher{
		engine:        engine,
		queue:         queue,
		jobs:          make(chan *Job, jobBuffer),
		reservations:  make(chan chan *playback.Item, jobBuffer),
		sem:           make(chan struct{}, workers),
		defaultSpeed:  play.Speed,
		defaultVolume: play.Volume,
	}
}

// Submit accepts a job for synthesis. It never blocks; when the queue
// is full the job is dropped and false is returned.
func (d *Dispatcher) Submit(job Job) bool {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	select {
	case d.jobs <- &job:
		log.Debug("job accepted", "id", job.ID, "speaker", job.Speaker, "voice", job.Voice)
		return true
	default:
		log.Warn("job queue full, message dropped", "speaker", job.Speaker)
		return false
	}
}

// Depth reports the number of jobs waiting for a worker.
func (d *Dispatcher) Depth() int {
	return len(d.jobs)
}

// Close stops intake. Run returns once already accepted jobs finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.jobs) })
}

// Run schedules jobs until ctx is canceled or Close is called, then
// waits for in-flight synthesis and the ordered appender to drain.
func (d *Dispatcher) Run(ctx context.Context) {
	appenderDone := make(chan struct{})
	go func() {
		defer close(appenderDone)
		for res := range d.reservations {
			if item := <-res; item != nil {
				d.queue.Enqueue(item)
			}
		}
	}()

	var workers sync.WaitGroup
schedule:
	for {
		select {
		case <-ctx.Done():
			break schedule
		case job, ok := <-d.jobs:
			if !ok {
				break schedule
			}
			res := make(chan *playback.Item, 1)
			d.reservations <- res

			select {
			case d.sem <- struct{}{}:
			case <-ctx.Done():
				res <- nil
				break schedule
			}

			workers.Add(1)
			go func(job *Job) {
				defer workers.Done()
				defer func() { <-d.sem }()
				res <- d.runJob(ctx, job)
			}(job)
		}
	}

	workers.Wait()
	close(d.reservations)
	<-appenderDone
}

// runJob synthesizes one job. Failures are logged and yield nil so the
// appender releases the job's playback slot without output.
func (d *Dispatcher) runJob(ctx context.Context, job *Job) *playback.Item {
	audio, err := d.engine.Synthesize(ctx, job.Speaker, job.Text, job.Voice)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("synthesis failed, job dropped",
				"id", job.ID, "speaker", job.Speaker, "voice", job.Voice, "err", err)
		}
		return nil
	}

	speed := d.defaultSpeed
	if job.Speed != nil {
		speed = *job.Speed
	}
	return &playback.Item{
		ID:      job.ID,
		Speaker: job.Speaker,
		Text:    job.Text,
		Audio:   audio,
		Speed:   speed,
		Volume:  d.defaultVolume,
	}
}
