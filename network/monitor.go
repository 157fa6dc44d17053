/*
Package network implements the periodic health probe and online/
offline state machine with hysteresis.

Grounded on api/scheduler.go's ReconciliationScheduler:
same ticker/stop-channel/sync.WaitGroup shape for a background
goroutine, generalized from a fixed hourly reconciliation sweep to a
configurable-interval probe with a broadcast subscriber channel.
*/
package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/fieldstack/terminal-core/logging"
)

var log = logging.With("network")

// Clock is the subset of pairing.Pairing the monitor needs to persist
// state transitions — kept narrow to avoid an import cycle.
type Clock interface {
	SetOnline(ctx context.Context) error
	SetOffline(ctx context.Context) error
}

// Event is broadcast to subscribers on every state transition.
type Event struct {
	Online bool
	At     time.Time
}

// Monitor runs the health probe on a fixed interval and flips state
// using hysteresis: ConsecutiveFailuresToOffline failed probes in a
// row mark the terminal offline; a single successful probe after a
// failure streak restores it immediately.
type Monitor struct {
	URL                   string
	Interval              time.Duration
	Timeout               time.Duration
	FailuresToOffline     int
	Clock                 Clock
	OnReconnect           func()

	client *http.Client

	mu          sync.Mutex
	online      bool
	failStreak  int
	subscribers []chan Event

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Monitor. FailuresToOffline defaults to 3 if unset.
func New(url string, interval, timeout time.Duration, failuresToOffline int, clock Clock) *Monitor {
	if failuresToOffline <= 0 {
		failuresToOffline = 3
	}
	return &Monitor{
		URL:               url,
		Interval:          interval,
		Timeout:           timeout,
		FailuresToOffline: failuresToOffline,
		Clock:             clock,
		client:            &http.Client{Timeout: timeout},
		online:            true,
		stop:              make(chan struct{}),
	}
}

// Subscribe returns a channel that receives every state-change event.
// Subscribers must keep up; the channel is buffered but the monitor
// never blocks sending — a full channel drops the event.
func (m *Monitor) Subscribe() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Event, 8)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Start begins probing. It probes once immediately, then on Interval.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.ticker = time.NewTicker(m.Interval)
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop aborts the in-flight probe and releases the timer.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.ticker != nil {
		m.ticker.Stop()
	}
	close(m.stop)
	m.wg.Wait()
}

// IsOnline reports the monitor's current view without probing.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	m.probeOnce(ctx)
	for {
		select {
		case <-m.ticker.C:
			m.probeOnce(ctx)
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, m.URL, nil)
	ok := false
	if err == nil {
		resp, doErr := m.client.Do(req)
		if doErr == nil {
			ok = resp.StatusCode >= 200 && resp.StatusCode < 300
			resp.Body.Close()
		}
	}

	if ctx.Err() != nil {
		// Stopped mid-probe: the result says nothing about the backend.
		return
	}
	m.recordResult(ctx, ok)
}

func (m *Monitor) recordResult(ctx context.Context, success bool) {
	m.mu.Lock()
	wasOnline := m.online
	var transitioned bool
	var nowOnline bool

	if success {
		m.failStreak = 0
		if !wasOnline {
			m.online = true
			transitioned = true
		}
	} else {
		m.failStreak++
		if wasOnline && m.failStreak >= m.FailuresToOffline {
			m.online = false
			transitioned = true
		}
	}
	nowOnline = m.online
	m.mu.Unlock()

	if !transitioned {
		return
	}

	if m.Clock != nil {
		if nowOnline {
			_ = m.Clock.SetOnline(ctx)
		} else {
			_ = m.Clock.SetOffline(ctx)
		}
	}

	log.Info().Bool("online", nowOnline).Msg("network status changed")
	m.broadcast(Event{Online: nowOnline, At: time.Now().UTC()})

	if nowOnline && m.OnReconnect != nil {
		m.OnReconnect()
	}
}

func (m *Monitor) broadcast(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
