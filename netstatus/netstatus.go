// Package netstatus tracks backend connectivity for the sync engine.
//
// A Monitor holds the current ONLINE/OFFLINE state and exposes it three
// ways: a synchronous IsOnline query, short-lived JustWentOnline and
// JustWentOffline flags for transient UI notices, and subscriber channels
// that receive a signal on each offline-to-online transition (the edge the
// sync schedulers care about).
//
// State changes come from two sources: the host application pushing
// platform connectivity events through SetOnline, and an optional
// background probe that polls a reachability check. The monitor is a
// pass-through for those signals and has no failure modes of its own.
package netstatus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Probe reports whether the backend is currently reachable.
type Probe interface {
	Check(ctx context.Context) bool
}

// HTTPProbe checks reachability with a HEAD request. Any response at all
// counts as reachable; only transport errors count as offline.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// Check implements Probe.
func (p *HTTPProbe) Check(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// Config holds monitor configuration.
type Config struct {
	// ProbeInterval is how often the background probe runs.
	ProbeInterval time.Duration

	// TransitionWindow is how long the JustWentOnline/JustWentOffline
	// flags stay raised after a transition.
	TransitionWindow time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:    10 * time.Second,
		TransitionWindow: 5 * time.Second,
	}
}

// Monitor holds connectivity state. The zero value is not usable; use New.
type Monitor struct {
	config Config
	probe  Probe
	logger *logrus.Entry

	mu           sync.Mutex
	online       bool
	transitionAt time.Time
	wentOnline   bool // direction of the last transition
	subscribers  []chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Monitor. The initial state is ONLINE until a probe or a
// platform event says otherwise, so a fresh start never holds back the
// first sync pass.
//
// probe may be nil when the host application drives state exclusively
// through SetOnline. If logger is nil, a default stderr logger is used.
func New(probe Probe, config Config, logger *logrus.Logger) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = DefaultConfig().ProbeInterval
	}
	if config.TransitionWindow <= 0 {
		config.TransitionWindow = DefaultConfig().TransitionWindow
	}
	return &Monitor{
		config: config,
		probe:  probe,
		logger: logger.WithField("component", "netstatus"),
		online: true,
	}
}

// Start launches the background probe loop. No-op when the monitor has no
// probe. Stop must be called to release the loop.
func (m *Monitor) Start() {
	if m.probe == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.ProbeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SetOnline(m.probe.Check(ctx))
			}
		}
	}()
}

// Stop shuts down the probe loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// IsOnline returns the current connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a connectivity observation, from either the platform
// or the probe loop. Repeated observations of the same state are ignored;
// on an offline-to-online transition every subscriber gets a signal.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}

	m.online = online
	m.transitionAt = time.Now()
	m.wentOnline = online
	subscribers := make([]chan struct{}, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	if online {
		m.logger.Info("connection restored")
		for _, ch := range subscribers {
			select {
			case ch <- struct{}{}:
			default: // subscriber already has a pending signal
			}
		}
	} else {
		m.logger.Info("connection lost")
	}
}

// JustWentOnline reports whether the monitor transitioned to ONLINE within
// the transition window. The flag reverts on its own once the window
// passes; it drives temporary UI notices, not business logic.
func (m *Monitor) JustWentOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wentOnline && m.withinWindow()
}

// JustWentOffline reports whether the monitor transitioned to OFFLINE
// within the transition window.
func (m *Monitor) JustWentOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.wentOnline && m.withinWindow()
}

func (m *Monitor) withinWindow() bool {
	if m.transitionAt.IsZero() {
		return false
	}
	return time.Since(m.transitionAt) < m.config.TransitionWindow
}

// Subscribe returns a channel that receives a signal on each
// offline-to-online transition. The channel has a buffer of one; a
// subscriber that has not drained its previous signal is not sent another.
func (m *Monitor) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}
