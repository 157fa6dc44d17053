package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fieldstack/terminal-core/catalog"
	"github.com/fieldstack/terminal-core/errs"
	"github.com/fieldstack/terminal-core/logging"
	"github.com/fieldstack/terminal-core/pairing"
	"github.com/fieldstack/terminal-core/queue"
)

var log = logging.With("sync")

// Engine owns both background loops: a delta pull on a fixed interval,
// and a drain triggered by reconnection, a successful pull, or a direct
// gateway call on enqueue-while-online.
type Engine struct {
	cache   *catalog.Cache
	queue   *queue.Queue
	pairing *pairing.Pairing
	backend Backend

	interval time.Duration

	drainSignal chan struct{}
	stop        chan struct{}
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	pauseMu sync.Mutex
	paused  bool
}

// New builds an Engine. interval is the delta pull tick period.
func New(cache *catalog.Cache, q *queue.Queue, p *pairing.Pairing, backend Backend, interval time.Duration) *Engine {
	return &Engine{
		cache:       cache,
		queue:       q,
		pairing:     p,
		backend:     backend,
		interval:    interval,
		drainSignal: make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
}

// Start launches the pull and drain loops.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(2)
	go e.deltaPullLoop(ctx)
	go e.drainLoop(ctx)
}

// Stop cancels both loops and waits for them to return; any in-flight
// HTTP call is aborted via ctx. Start does not run the queue's orphan
// recovery: an operation left in SENDING is reset by
// queue.RecoverOrphans, which cmd/terminald runs at process startup.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	close(e.stop)
	e.wg.Wait()
}

// TriggerDrain requests an out-of-band drain, used by the network
// monitor's OnReconnect hook, a successful pull, and the gateway on
// enqueue-while-online. Non-blocking: a pending signal is enough.
func (e *Engine) TriggerDrain() {
	select {
	case e.drainSignal <- struct{}{}:
	default:
	}
}

// VerifyAuth checks the stored API key against the backend's identity
// endpoint at startup. An invalid key clears it and pauses both loops
// until the gateway stores a fresh one.
func (e *Engine) VerifyAuth(ctx context.Context) error {
	key, err := e.pairing.APIKey(ctx)
	if err != nil {
		return err
	}
	if key == "" {
		e.setPaused(true)
		return errs.New(errs.KindAuthInvalid, "no api key stored")
	}

	if err := e.backend.VerifyIdentity(ctx, key); err != nil {
		log.Warn().Err(err).Msg("api key rejected, pausing sync loops")
		_ = e.pairing.ClearAPIKey(ctx)
		e.setPaused(true)
		return errs.Wrap(errs.KindAuthInvalid, err)
	}

	e.setPaused(false)
	return nil
}

func (e *Engine) setPaused(v bool) {
	e.pauseMu.Lock()
	e.paused = v
	e.pauseMu.Unlock()
}

func (e *Engine) isPaused() bool {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	return e.paused
}

func (e *Engine) drainLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-e.drainSignal:
			e.runDrain(ctx)
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) runDrain(ctx context.Context) {
	if e.isPaused() {
		return
	}
	n, err := e.queue.Drain(ctx, e.backend)
	if err != nil {
		log.Error().Err(err).Msg("drain failed")
		return
	}
	if n > 0 {
		log.Info().Int("operations_sent", n).Msg("drain completed")
	}

	if err := e.pairing.ResetExposure(ctx, time.Now().UTC()); err != nil {
		if !errors.Is(err, pairing.ErrExposureNotSettled) {
			log.Error().Err(err).Msg("exposure reset failed")
		}
		return
	}
	log.Debug().Msg("exposure counters reset")
}
