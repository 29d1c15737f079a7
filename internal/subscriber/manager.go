// Package subscriber owns the long-lived MQTT subscription that feeds
// device events into the ingestion pipeline.
package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/eventgate/internal/ingest"
	"github.com/kiranshivaraju/eventgate/internal/metrics"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

// State is the connection state of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	DefaultFirstTick        = time.Second
	DefaultLivenessInterval = 30 * time.Second
	messageTimeout          = 10 * time.Second
)

// Hooks are the transport callbacks the Manager listens to.
type Hooks struct {
	// OnConnect runs for every established connection, including reconnects.
	OnConnect func()
	// OnConnectionLost runs when an established connection drops.
	OnConnectionLost func(err error)
}

// Transport is a broker connection. Connect returns nil once a connection is
// up or the transport is already re-establishing one on its own; OnConnect
// may fire before Connect returns.
type Transport interface {
	Connect(ctx context.Context, hooks Hooks) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Disconnect()
}

// Ingester is the pipeline entry point used for every received message.
type Ingester interface {
	Ingest(ctx context.Context, event *models.Event) (ingest.Result, error)
}

// Manager drives Disconnected -> Connecting -> Connected and keeps a liveness
// timer that calls Connect periodically. Connect is a no-op unless the state
// is Disconnected, so ticks never open a second connection.
type Manager struct {
	transport Transport
	ingester  Ingester
	topic     string
	qos       byte
	firstTick time.Duration
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	state   State
	timer   *time.Timer
	baseCtx context.Context
	stopped bool
}

type Option func(*Manager)

// WithLiveness overrides the first tick delay and the tick interval.
func WithLiveness(first, every time.Duration) Option {
	return func(m *Manager) {
		if first > 0 {
			m.firstTick = first
		}
		if every > 0 {
			m.interval = every
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(t Transport, ing Ingester, topic string, qos byte, opts ...Option) *Manager {
	m := &Manager{
		transport: t,
		ingester:  ing,
		topic:     topic,
		qos:       qos,
		firstTick: DefaultFirstTick,
		interval:  DefaultLivenessInterval,
		now:       time.Now,
		baseCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	metrics.MQTTConnectionState.Set(float64(Disconnected))
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StateName is State as text, for health reporting.
func (m *Manager) StateName() string {
	return m.State().String()
}

// Start arms the first liveness tick and connects. A connect failure is
// logged; the liveness ticks retry it.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.stopped = false
	m.mu.Unlock()

	m.arm(m.firstTick)
	if err := m.Connect(ctx); err != nil {
		slog.Warn("mqtt initial connect failed", "topic", m.topic, "error", err)
	}
}

// Liveness re-arms the next tick, then calls Connect. The next tick is armed
// first so that a failing or panicking Connect cannot stop future ticks.
func (m *Manager) Liveness(ctx context.Context) {
	m.arm(m.interval)

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("mqtt liveness tick panicked", "panic", rec)
		}
	}()

	slog.Debug("mqtt liveness tick", "state", m.State().String())
	if err := m.Connect(ctx); err != nil {
		slog.Warn("mqtt reconnect failed", "error", err)
	}
}

// Connect dials the broker when disconnected. Calls while connecting or
// connected return nil without doing anything.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Disconnected || m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	err := m.transport.Connect(ctx, Hooks{
		OnConnect:        m.onConnect,
		OnConnectionLost: m.onConnectionLost,
	})
	if err != nil {
		metrics.MQTTConnectAttempts.WithLabelValues("failed").Inc()
		m.mu.Lock()
		if m.state == Connecting {
			m.setStateLocked(Disconnected)
		}
		m.mu.Unlock()
		return fmt.Errorf("connecting to broker: %w", err)
	}

	metrics.MQTTConnectAttempts.WithLabelValues("ok").Inc()
	return nil
}

// Stop cancels the liveness timer and closes the connection.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	m.transport.Disconnect()

	m.mu.Lock()
	m.setStateLocked(Disconnected)
	m.mu.Unlock()
	slog.Info("mqtt subscriber stopped")
}

func (m *Manager) arm(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	ctx := m.baseCtx
	m.timer = time.AfterFunc(d, func() { m.Liveness(ctx) })
}

func (m *Manager) onConnect() {
	if err := m.transport.Subscribe(m.topic, m.qos, m.onMessage); err != nil {
		slog.Error("mqtt subscribe failed", "topic", m.topic, "error", err)
		// Drop the connection so the next tick dials from scratch.
		m.transport.Disconnect()
		m.mu.Lock()
		m.setStateLocked(Disconnected)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	if !m.stopped {
		m.setStateLocked(Connected)
	}
	m.mu.Unlock()
	slog.Info("mqtt connected", "topic", m.topic)
}

func (m *Manager) onConnectionLost(err error) {
	m.mu.Lock()
	m.setStateLocked(Disconnected)
	m.mu.Unlock()
	slog.Warn("mqtt connection lost", "error", err)
}

// onMessage handles one delivery. Failures are logged and never affect the
// connection.
func (m *Manager) onMessage(topic string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.MQTTMessages.WithLabelValues("panic").Inc()
			slog.Error("mqtt message handler panicked", "topic", topic, "panic", rec)
		}
	}()

	event, err := ingest.FromMessage(topic, payload, m.now())
	if err != nil {
		metrics.MQTTMessages.WithLabelValues("malformed").Inc()
		slog.Warn("mqtt message rejected", "topic", topic, "error", err)
		return
	}

	m.mu.Lock()
	base := m.baseCtx
	m.mu.Unlock()
	ctx, cancel := context.WithTimeout(base, messageTimeout)
	defer cancel()

	res, err := m.ingester.Ingest(ctx, event)
	if err != nil {
		metrics.MQTTMessages.WithLabelValues("failed").Inc()
		slog.Error("mqtt event not stored",
			"topic", topic, "event_id", event.EventID, "account", event.Account, "error", err)
		return
	}

	if res.Duplicate {
		metrics.MQTTMessages.WithLabelValues("duplicate").Inc()
		return
	}
	metrics.MQTTMessages.WithLabelValues("stored").Inc()
	slog.Debug("mqtt event stored", "event_id", res.EventID, "account", event.Account, "type", event.Type)
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	metrics.MQTTConnectionState.Set(float64(s))
}
