// Package connectivity determines whether the remote backend is reachable
// and how good the connection is, by running an active probe on an interval.
// Transitions between online and offline are debounced and published to
// subscribers exactly once per state change.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Quality classifies the connection from probe round-trip latency.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityOffline   Quality = "offline"
)

const (
	defaultProbeTimeout  = 5 * time.Second
	defaultProbeInterval = 30 * time.Second
	defaultDebounceDelay = 2 * time.Second

	excellentLatencyCeiling = 100 * time.Millisecond
	goodLatencyCeiling      = 300 * time.Millisecond
	fairLatencyCeiling      = 800 * time.Millisecond
)

// Status is one connectivity observation.
type Status struct {
	Online    bool
	Quality   Quality
	Latency   time.Duration
	CheckedAt time.Time
}

// Prober performs the lightweight network round trip used to decide
// reachability. A probe error or timeout counts as offline for that check
// only.
type Prober interface {
	Ping(ctx context.Context) error
}

// MonitorConfig captures the dependencies for a connectivity monitor.
type MonitorConfig struct {
	Prober        Prober
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration
	DebounceDelay time.Duration
	Logger        *zap.Logger
	Clock         func() time.Time
}

// Monitor runs the probe loop and fans observed transitions out to
// subscribers. It never returns errors to callers: every failure degrades to
// an offline status value.
type Monitor struct {
	prober        Prober
	probeTimeout  time.Duration
	probeInterval time.Duration
	debounceDelay time.Duration
	logger        *zap.Logger
	clock         func() time.Time

	mu             sync.Mutex
	initialized    bool
	published      Status
	candidateState *candidate
	subscribers    map[int64]func(Status)
	nextID         int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

type candidate struct {
	online bool
	since  time.Time
}

// NewMonitor validates the configuration and returns a stopped monitor.
// CheckNow may be called without Run for one-shot probes.
func NewMonitor(cfg MonitorConfig) *Monitor {
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	probeInterval := cfg.ProbeInterval
	if probeInterval <= 0 {
		probeInterval = defaultProbeInterval
	}
	debounceDelay := cfg.DebounceDelay
	if debounceDelay < 0 {
		debounceDelay = defaultDebounceDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{
		prober:        cfg.Prober,
		probeTimeout:  probeTimeout,
		probeInterval: probeInterval,
		debounceDelay: debounceDelay,
		logger:        logger,
		clock:         clock,
		subscribers:   make(map[int64]func(Status)),
		stopCh:        make(chan struct{}),
	}
}

// Status returns the last published observation.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}

// Online reports whether the last published observation was online.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized && m.published.Online
}

// Subscribe registers a transition callback and returns its cancel func.
// Callbacks fire once per published online/offline change.
func (m *Monitor) Subscribe(fn func(Status)) func() {
	m.mu.Lock()
	m.nextID++
	subscriberID := m.nextID
	m.subscribers[subscriberID] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subscribers, subscriberID)
		m.mu.Unlock()
	}
}

// CheckNow probes immediately and returns the observation. It never returns
// an error; probe failures yield an offline status.
func (m *Monitor) CheckNow(ctx context.Context) Status {
	observed := m.probe(ctx)
	m.record(observed)
	return observed
}

// Run probes on the configured interval until Stop is called.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	m.CheckNow(ctx)
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// Stop terminates the Run loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

func (m *Monitor) probe(ctx context.Context) Status {
	checkedAt := m.clock()
	if m.prober == nil {
		return Status{Online: false, Quality: QualityOffline, CheckedAt: checkedAt}
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	started := m.clock()
	err := m.prober.Ping(probeCtx)
	latency := m.clock().Sub(started)
	if err != nil {
		return Status{Online: false, Quality: QualityOffline, Latency: latency, CheckedAt: checkedAt}
	}
	return Status{Online: true, Quality: classifyLatency(latency), Latency: latency, CheckedAt: checkedAt}
}

// record folds one observation into the debounced published state. The first
// observation publishes immediately; after that a changed online flag must
// hold for the debounce delay before a transition event fires, which absorbs
// probe flapping.
func (m *Monitor) record(observed Status) {
	m.mu.Lock()

	if !m.initialized {
		m.initialized = true
		m.published = observed
		callbacks := m.snapshotSubscribersLocked()
		m.mu.Unlock()
		m.notify(observed, callbacks)
		return
	}

	if observed.Online == m.published.Online {
		// Same state: refresh quality and drop any pending flip.
		m.published = observed
		m.candidateState = nil
		m.mu.Unlock()
		return
	}

	if m.candidateState == nil || m.candidateState.online != observed.Online {
		m.candidateState = &candidate{online: observed.Online, since: observed.CheckedAt}
	}
	held := observed.CheckedAt.Sub(m.candidateState.since)
	if held < m.debounceDelay {
		m.mu.Unlock()
		return
	}

	m.published = observed
	m.candidateState = nil
	callbacks := m.snapshotSubscribersLocked()
	m.mu.Unlock()
	m.notify(observed, callbacks)
}

func (m *Monitor) snapshotSubscribersLocked() []func(Status) {
	callbacks := make([]func(Status), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		callbacks = append(callbacks, fn)
	}
	return callbacks
}

func (m *Monitor) notify(status Status, callbacks []func(Status)) {
	m.logger.Info("connectivity transition",
		zap.Bool("online", status.Online),
		zap.String("quality", string(status.Quality)))
	for _, fn := range callbacks {
		fn(status)
	}
}

func classifyLatency(latency time.Duration) Quality {
	switch {
	case latency < excellentLatencyCeiling:
		return QualityExcellent
	case latency < goodLatencyCeiling:
		return QualityGood
	case latency < fairLatencyCeiling:
		return QualityFair
	default:
		return QualityPoor
	}
}
