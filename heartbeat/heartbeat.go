// Package heartbeat reports liveness to the collector on a fixed interval
// and accumulates the outcome counters.
package heartbeat

//go:generate mockgen -destination=mock_beater.go -package=heartbeat github.com/st-keller/dust-client/heartbeat Beater

import (
	"context"
	"sync"
	"time"

	"github.com/st-keller/dust-client/logger"
	"github.com/st-keller/dust-client/types"
)

// DefaultInterval is used when Start gets a non-positive interval.
const DefaultInterval = 5 * time.Second

// Beater issues one liveness request. ok=false with a nil error means the
// collector answered with a non-2xx status.
type Beater interface {
	Beat(ctx context.Context, at time.Time) (ok bool, err error)
}

// Monitor owns the heartbeat state. It is the only writer.
type Monitor struct {
	beater Beater
	log    logger.Logger
	now    func() time.Time

	mu    sync.Mutex
	state types.HeartbeatState
}

// New creates a Monitor. A nil now uses time.Now.
func New(beater Beater, log logger.Logger, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{beater: beater, log: log.WithComponent("heartbeat"), now: now}
}

// State returns a copy of the current state. The pointer fields are never
// written through, so a shallow copy is safe to share.
func (m *Monitor) State() types.HeartbeatState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Tick runs one beat synchronously and records its outcome.
func (m *Monitor) Tick(ctx context.Context) {
	t := m.now()

	ok, err := m.beater.Beat(ctx, t)
	if err != nil {
		m.log.Warn().Err(err).Msg("Heartbeat failed")
	}

	m.record(t, ok && err == nil)
}

func (m *Monitor) record(t time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcome := ok
	m.state.LastOutcome = &outcome
	if ok {
		m.state.SuccessCount++
		m.state.LastSuccessTime = &t
	} else {
		m.state.FailCount++
		m.state.LastFailTime = &t
	}
	m.state.LastTime = &t
	m.state.Count++
}

// Handle controls a running heartbeat loop.
type Handle struct {
	mu      sync.Mutex
	running bool
	timer   *time.Timer
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Start schedules Tick every interval until ctx ends or Stop is called.
// Each tick runs in its own goroutine, so a slow beat never delays the next.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) *Handle {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{running: true, cancel: cancel}

	var fire func()
	fire = func() {
		h.mu.Lock()
		if !h.running {
			h.mu.Unlock()
			return
		}
		h.wg.Add(1)
		h.timer.Reset(interval)
		h.mu.Unlock()

		go func() {
			defer h.wg.Done()
			m.Tick(ctx)
		}()
	}

	h.mu.Lock()
	h.timer = time.AfterFunc(interval, fire)
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.halt()
	}()

	m.log.Info().Dur("interval", interval).Msg("Heartbeat started")

	return h
}

// Stop halts the loop, cancels in-flight beats and waits for them.
func (h *Handle) Stop() {
	h.halt()
	h.cancel()
	h.wg.Wait()
}

func (h *Handle) halt() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.running = false
	h.timer.Stop()
}
