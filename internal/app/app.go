package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/chatvox/chatvox/internal/chat"
	"github.com/chatvox/chatvox/internal/config"
	"github.com/chatvox/chatvox/internal/dispatch"
	"github.com/chatvox/chatvox/internal/pipeline"
	"github.com/chatvox/chatvox/internal/playback"
	"github.com/chatvox/chatvox/internal/stream"
	"github.com/chatvox/chatvox/internal/tracker"
	"github.com/chatvox/chatvox/internal/tts"
)

// App holds every pipeline component. Build one with New, then call
// Run; both the zero value and a second Run are invalid.
type App struct {
	cfg      *config.Config
	settings *config.Settings

	engine     *pipeline.Engine
	dispatcher *dispatch.Dispatcher
	queue      *playback.Queue
	consumer   *playback.Consumer
	player     playback.Player
	tracker    *tracker.Tracker
	client     *stream.Client

	emergency atomic.Bool
}

// New wires the pipeline from configuration. Settings problems are
// fatal here; nothing downstream can run without them.
func New(cfg *config.Config) (*App, error) {
	settings, err := config.OpenSettings(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		settings: settings,
		queue:    playback.NewQueue(),
		player:   playback.NewOtoPlayer(),
		tracker:  tracker.NewTracker(cfg.DataDir),
	}
	a.engine = pipeline.NewEngine(settings, a.queue,
		pipeline.WithEmergencyArmed(a.emergency.Load))
	a.dispatcher = dispatch.NewDispatcher(
		tts.NewEngine(cfg.Synthesis), a.queue, cfg.Synthesis, cfg.Playback)
	a.consumer = playback.NewConsumer(a.queue, a.player, playback.NewTranscoder())
	a.client = stream.NewClient(cfg.StreamURL, a.handleFrame)
	return a, nil
}

// ArmEmergency toggles the flag that lets moderators clear the
// playback queue with the restart command.
func (a *App) ArmEmergency(on bool) {
	a.emergency.Store(on)
	log.Info("emergency queue clear", "armed", on)
}

// Tracker exposes the activity tracker read path.
func (a *App) Tracker() *tracker.Tracker {
	return a.tracker
}

// handleFrame is the synchronous per-frame path: parse, track,
// refresh settings, run commands, decide, submit.
func (a *App) handleFrame(frame []byte) {
	ev, err := chat.ParseFrame(frame)
	if err != nil {
		if !errors.Is(err, chat.ErrNotChatFrame) {
			log.Debug("frame dropped", "err", err)
		}
		return
	}

	a.tracker.Touch(ev.Identity)
	a.settings.ReloadIfChanged()
	snap := a.settings.Snapshot()

	if a.engine.HandleCommand(snap, ev) {
		return
	}

	dec := a.engine.Decide(snap, ev)
	if !dec.ShouldSpeak {
		log.Debug("message skipped", "identity", ev.Identity, "reason", dec.SkipReason)
		return
	}

	code, ok := snap.Voices.Resolve(dec.Voice)
	if !ok {
		log.Warn("voice not in catalog, message dropped",
			"identity", ev.Identity, "voice", dec.Voice)
		return
	}

	a.dispatcher.Submit(dispatch.Job{
		Speaker: dec.DisplayName,
		Text:    dec.Text,
		Voice:   code,
		Speed:   dec.Speed,
	})
}

// Run blocks until ctx is canceled, then shuts the pipeline down in
// dependency order with a bounded grace period per stage.
func (a *App) Run(ctx context.Context) error {
	if err := a.settings.Watch(ctx); err != nil {
		log.Warn("settings watcher unavailable, relying on mtime checks", "err", err)
	}

	trackerCtx, stopTracker := context.WithCancel(context.Background())
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	playCtx, stopPlayback := context.WithCancel(context.Background())
	defer stopTracker()
	defer stopDispatch()
	defer stopPlayback()

	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		a.tracker.Run(trackerCtx)
	}()

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		a.dispatcher.Run(dispatchCtx)
	}()

	go a.consumer.Run(playCtx)

	log.Info("pipeline running", "stream", a.cfg.StreamURL, "data", a.cfg.DataDir)
	err := a.client.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("stream client stopped", "err", err)
	}

	// Intake has stopped. Let in-flight synthesis finish briefly, then
	// abandon it.
	a.dispatcher.Close()
	waitOrForce(dispatcherDone, stopDispatch, config.DefaultShutdownGracePeriod)

	a.queue.Close()
	waitOrForce(a.consumer.Done(), stopPlayback, config.DefaultShutdownGracePeriod)
	a.player.Close()

	stopTracker()
	<-trackerDone

	log.Info("pipeline stopped")
	return nil
}

// waitOrForce waits for done up to grace, canceling the stage if it
// does not finish in time, then waits for it to exit.
func waitOrForce(done <-chan struct{}, force context.CancelFunc, grace time.Duration) {
	select {
	case <-done:
		return
	case <-time.After(grace):
		force()
	}
	<-done
}
