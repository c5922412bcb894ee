package brokerwatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultMonitorInterval is used when MonitorConfig.Interval isn't set.
	DefaultMonitorInterval = 5 * time.Second
	// retryInitialDelay is a delay before the first probe of a new retry task.
	retryInitialDelay = time.Millisecond
)

// MonitorConfig stores all data required to watch a single broker.
type MonitorConfig struct {
	// Name of the broker, used in logs and metrics.
	// Live monitors must have distinct names, otherwise
	// they overwrite each other's status metric.
	Name string
	// How long wait between reconnect probes while the broker is down.
	Interval time.Duration
	// Limit for a single probe. Zero means no limit.
	ProbeTimeout time.Duration
}

// MonitorOption describes a functional option for configuring Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger sets logger used by Monitor.
func WithMonitorLogger(l zerolog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.log = l
	}
}

type registration struct {
	id       ListenerID
	listener StatusListener
}

// retryTask is a periodic probing goroutine.
type retryTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// alive reports whether the task goroutine is still running.
func (t *retryTask) alive() bool {
	select {
	case <-t.done:
		return false
	default:
	}

	return true
}

// Monitor tracks reachability of a single broker and notifies
// registered listeners about status transitions.
//
// While the broker is down Monitor probes it periodically.
// At most one retry task is alive at any time.
//
// Listeners are called synchronously and must not call Monitor methods
// other than Status and RegisterListener from OnStatusUpdate.
type Monitor struct {
	cfg    MonitorConfig
	prober Prober
	log    zerolog.Logger

	lmx       sync.Mutex
	listeners []registration

	// nmx serializes notification rounds.
	nmx          sync.Mutex
	lastReported atomic.Int32

	// mx guards the retry task, the close counter and the closed flag.
	mx   sync.Mutex
	task *retryTask
	// closes counts ConnectionClosed calls. A retry probe that overlaps
	// with a close is treated as failed.
	closes uint64
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewMonitor returns a new instance of Monitor.
func NewMonitor(cfg MonitorConfig, prober Prober, opts ...MonitorOption) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMonitorInterval
	}
	if cfg.Name == "" {
		cfg.Name = "broker"
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Monitor{
		cfg:    cfg,
		prober: prober,
		log:    zerolog.Nop(),
		ctx:    ctx,
		cancel: cancel,
	}

	for _, option := range opts {
		option(m)
	}

	m.log = m.log.With().Str("broker", cfg.Name).Logger()
	m.lastReported.Store(int32(StatusUnknown))

	if acquireName(cfg.Name) > 1 {
		m.log.Warn().Msg("another live monitor has the same name, status metric is shared")
	}
	setBrokerStatus(cfg.Name, StatusUnknown)

	return m
}

// Name returns the broker name the Monitor was configured with.
func (m *Monitor) Name() string {
	return m.cfg.Name
}

// Initialize checks the broker once and reports the result to listeners.
// If the broker is down, retry task is started.
// It must be called once, before other methods.
func (m *Monitor) Initialize(ctx context.Context) {
	current := StatusDown
	if m.TestConnection(ctx) {
		current = StatusConnected
	}

	m.notifyListeners(current)

	if current == StatusDown {
		m.monitorConnection()
	}
}

// RegisterListener adds l to the end of the listener list.
// l isn't notified about the current status.
func (m *Monitor) RegisterListener(l StatusListener) ListenerID {
	id := uuid.New()

	m.lmx.Lock()
	m.listeners = append(m.listeners, registration{id: id, listener: l})
	m.lmx.Unlock()

	m.log.Debug().
		Str("listener", id.String()).
		Str("type", fmt.Sprintf("%T", l)).
		Msg("status listener registered")

	return id
}

// ConnectionClosed is called by broker client when an established
// connection is dropped. Listeners are notified about DOWN status
// and retry task is started unless one is already running.
func (m *Monitor) ConnectionClosed() {
	m.mx.Lock()
	m.closes++
	m.mx.Unlock()

	m.log.Warn().Msg("broker connection closed")

	m.notifyListeners(StatusDown)
	m.monitorConnection()
}

// Status returns the last status reported to listeners.
func (m *Monitor) Status() Status {
	return Status(m.lastReported.Load())
}

// Retrying reports whether a retry task is alive.
func (m *Monitor) Retrying() bool {
	m.mx.Lock()
	defer m.mx.Unlock()

	return m.task != nil && m.task.alive()
}

// Close stops the retry task, if any, and waits for it to finish.
// No retry task is started after Close.
func (m *Monitor) Close() {
	m.mx.Lock()
	wasClosed := m.closed
	m.closed = true
	t := m.task
	m.task = nil
	m.mx.Unlock()

	m.cancel()

	if !wasClosed {
		releaseName(m.cfg.Name)
	}

	if t != nil {
		<-t.done
	}
}

// TestConnection probes the broker synchronously.
// Any probe error or panic is reported as unavailable broker.
func (m *Monitor) TestConnection(ctx context.Context) (ok bool) {
	if m.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			m.log.Debug().Interface("panic", r).Msg("connection to broker is unavailable")

			ok = false
		}

		recordProbe(m.cfg.Name, ok)
	}()

	err := m.prober.Probe(ctx)
	if err != nil {
		m.log.Debug().Err(err).Msg("connection to broker is unavailable")

		return false
	}

	m.log.Info().Msg("connection to broker is available")

	return true
}

// monitorConnection starts retry task if there is no alive one.
// Multiple connections can report close at once,
// so check and start must be done under single lock.
func (m *Monitor) monitorConnection() {
	m.mx.Lock()
	defer m.mx.Unlock()

	if m.closed {
		return
	}

	if m.task != nil && m.task.alive() {
		m.log.Info().Msg("monitor already running")

		return
	}

	m.log.Info().Dur("interval", m.cfg.Interval).Msg("scheduling connection retries")

	ctx, cancel := context.WithCancel(m.ctx)
	t := &retryTask{cancel: cancel, done: make(chan struct{})}
	m.task = t

	retryTasksStarted.WithLabelValues(m.cfg.Name).Inc()

	go m.schedule(ctx, t)
}

// schedule runs t at fixed rate until it reports the broker connected
// or ctx is done.
func (m *Monitor) schedule(ctx context.Context, t *retryTask) {
	defer close(t.done)
	defer t.cancel()

	delay := time.NewTimer(retryInitialDelay)
	defer delay.Stop()

	select {
	case <-ctx.Done():
		return
	case <-delay.C:
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if m.run(ctx, t) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// run is a body of the retry task. It probes the broker
// and reports whether the task must be finished.
func (m *Monitor) run(ctx context.Context, t *retryTask) bool {
	m.log.Debug().Msg("checking status of the broker")

	m.mx.Lock()
	closes := m.closes
	m.mx.Unlock()

	if !m.TestConnection(ctx) {
		return false
	}

	m.nmx.Lock()
	defer m.nmx.Unlock()

	m.mx.Lock()
	if m.closed {
		m.mx.Unlock()

		return true
	}
	if m.closes != closes {
		m.mx.Unlock()
		m.log.Debug().Msg("connection closed while probing, keep retrying")

		return false
	}
	if m.task == t {
		m.task = nil
	}
	m.mx.Unlock()

	m.dispatch(StatusConnected)

	return true
}

// notifyListeners runs a notification round for the current status.
func (m *Monitor) notifyListeners(current Status) {
	m.nmx.Lock()
	defer m.nmx.Unlock()

	m.dispatch(current)
}

// dispatch notifies every listener in registration order and then
// records current as the last reported status.
// Caller must hold nmx.
func (m *Monitor) dispatch(current Status) {
	previous := m.Status()

	m.log.Debug().
		Stringer("previous", previous).
		Stringer("status", current).
		Msg("notifying listeners of new status")

	m.lmx.Lock()
	listeners := make([]registration, len(m.listeners))
	copy(listeners, m.listeners)
	m.lmx.Unlock()

	for _, r := range listeners {
		m.notify(r, previous, current)
	}

	m.lastReported.Store(int32(current))
	setBrokerStatus(m.cfg.Name, current)
}

// notify calls a single listener. A panicking listener is logged
// and doesn't affect other listeners.
func (m *Monitor) notify(r registration, previous, current Status) {
	defer func() {
		if rec := recover(); rec != nil {
			listenerFailures.WithLabelValues(m.cfg.Name).Inc()

			m.log.Error().
				Str("listener", r.id.String()).
				Str("type", fmt.Sprintf("%T", r.listener)).
				Interface("panic", rec).
				Msg("unable to notify listener about new status")
		}
	}()

	r.listener.OnStatusUpdate(previous, current)
}

// names counts live monitors per name.
var names = struct {
	sync.Mutex
	live map[string]int
}{live: make(map[string]int)}

// acquireName records a live monitor named name and
// returns the number of live monitors with this name.
func acquireName(name string) int {
	names.Lock()
	defer names.Unlock()

	names.live[name]++

	return names.live[name]
}

func releaseName(name string) {
	names.Lock()
	defer names.Unlock()

	names.live[name]--
	if names.live[name] <= 0 {
		delete(names.live, name)
	}
}
