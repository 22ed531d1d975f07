// Package monitor tracks the gateway connection state and drives pairing and
// logout. It is the only writer of the connection state.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/gateway"
	"github.com/matheus3301/wppdesk/internal/status"
	"go.uber.org/zap"
)

const (
	DefaultInterval   = 10 * time.Second
	DefaultPairingTTL = 60 * time.Second
)

var (
	// ErrAlreadyConnected is returned by Pair while the session is linked.
	ErrAlreadyConnected = errors.New("session already connected")
	// ErrNoCredentials is returned when the gateway settings are incomplete.
	ErrNoCredentials = errors.New("gateway credentials are incomplete")
)

// Gateway is the subset of the gateway client the monitor drives.
type Gateway interface {
	CreateSession(ctx context.Context, creds gateway.Credentials) error
	FetchPairingArtifact(ctx context.Context, creds gateway.Credentials) (*gateway.PairingArtifact, error)
	QueryState(ctx context.Context, creds gateway.Credentials) (gateway.State, error)
	TerminateSession(ctx context.Context, creds gateway.Credentials) error
}

// Config tunes the polling loop. Zero values take the defaults.
type Config struct {
	Interval   time.Duration
	PairingTTL time.Duration
}

// Snapshot is the state plus the live pairing artifact, if any.
type Snapshot struct {
	State    status.State
	Artifact *gateway.PairingArtifact
}

// PairingEvent is the payload of bus.KindPairing. A nil Artifact means the
// previous one was discarded.
type PairingEvent struct {
	Artifact *gateway.PairingArtifact
}

// Monitor polls the gateway and owns the connection state machine.
type Monitor struct {
	gw       Gateway
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time

	// opMu serializes every gateway round trip that can move the state.
	opMu    sync.Mutex
	polling atomic.Bool

	mu       sync.RWMutex
	creds    gateway.Credentials
	artifact *gateway.PairingArtifact
	pairing  bool

	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a monitor. The machine is created on b when machine is nil.
func New(gw Gateway, machine *status.Machine, b *bus.Bus, creds gateway.Credentials, cfg Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if machine == nil {
		machine = status.NewMachine(b)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PairingTTL <= 0 {
		cfg.PairingTTL = DefaultPairingTTL
	}
	return &Monitor{
		gw:       gw,
		machine:  machine,
		bus:      b,
		logger:   logger,
		interval: cfg.Interval,
		ttl:      cfg.PairingTTL,
		now:      time.Now,
		creds:    creds,
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the polling loop. The first poll runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop cancels the loop and waits for it to exit. No loop poll runs after
// Stop returns.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// PollSoon asks the loop for an out-of-band poll. Requests coalesce.
func (m *Monitor) PollSoon() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Poll(ctx)
	for {
		select {
		case <-ticker.C:
			m.Poll(ctx)
		case <-m.trigger:
			m.Poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Poll queries the gateway once and updates the state. Failures are absorbed:
// an unreachable gateway reads as disconnected. A poll that overlaps one
// already in flight is skipped.
func (m *Monitor) Poll(ctx context.Context) {
	if !m.polling.CompareAndSwap(false, true) {
		m.logger.Debug("poll skipped, previous poll still in flight")
		return
	}
	defer m.polling.Store(false)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	creds := m.Credentials()
	if !creds.Complete() {
		m.discardPairing()
		m.transition(status.Unknown)
		return
	}

	st, err := m.gw.QueryState(ctx, creds)
	if err != nil {
		// Cancelled mid-request; the result says nothing about the session.
		return
	}

	switch {
	case st == gateway.StateConnected:
		m.discardPairing()
		m.transition(status.Connected)
	case m.pairingActive():
		m.transition(status.Pairing)
	default:
		m.transition(status.Disconnected)
	}
}

// Pair creates the session if needed and fetches a pairing artifact. On
// failure the state and any previous artifact are left as they were.
func (m *Monitor) Pair(ctx context.Context) (*gateway.PairingArtifact, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	creds := m.Credentials()
	if !creds.Complete() {
		return nil, ErrNoCredentials
	}
	if m.machine.Current() == status.Connected {
		return nil, ErrAlreadyConnected
	}

	if err := m.gw.CreateSession(ctx, creds); err != nil {
		if !gateway.IsRejected(err) {
			return nil, fmt.Errorf("create session: %w", err)
		}
		// Gateways reject creating a session that already exists.
		m.logger.Info("session creation rejected, fetching pairing code anyway", zap.Error(err))
	}

	artifact, err := m.gw.FetchPairingArtifact(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("fetch pairing artifact: %w", err)
	}
	// Expiry is measured on the monitor's clock.
	artifact.IssuedAt = m.now()

	m.mu.Lock()
	m.artifact = artifact
	m.pairing = true
	m.mu.Unlock()

	m.transition(status.Pairing)
	m.publishPairing(artifact)
	m.logger.Info("pairing started", zap.String("instance", creds.Instance))
	return artifact, nil
}

// Disconnect logs the session out. On failure the state is unchanged.
func (m *Monitor) Disconnect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	creds := m.Credentials()
	if !creds.Complete() {
		return ErrNoCredentials
	}
	if err := m.gw.TerminateSession(ctx, creds); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}

	m.discardPairing()
	m.transition(status.Disconnected)
	m.logger.Info("session logged out", zap.String("instance", creds.Instance))
	return nil
}

// SetCredentials replaces the gateway settings. A change abandons any pairing
// in progress and schedules a poll. It waits for a running poll, pair or
// disconnect, so none of them commits a result for the old settings.
func (m *Monitor) SetCredentials(creds gateway.Credentials) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	changed := m.creds != creds
	m.creds = creds
	m.mu.Unlock()

	if !changed {
		return
	}
	m.discardPairing()
	m.PollSoon()
}

// Credentials returns the current gateway settings.
func (m *Monitor) Credentials() gateway.Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds
}

// State returns the current connection state.
func (m *Monitor) State() status.State {
	return m.machine.Current()
}

// Snapshot returns the state and the pairing artifact while it is fresh.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{State: m.machine.Current()}
	if m.pairing && !m.artifact.Expired(m.now(), m.ttl) {
		snap.Artifact = m.artifact
	}
	return snap
}

// pairingActive reports whether a pairing is in progress, expiring it first
// when its artifact is past the TTL.
func (m *Monitor) pairingActive() bool {
	m.mu.Lock()
	if !m.pairing {
		m.mu.Unlock()
		return false
	}
	if !m.artifact.Expired(m.now(), m.ttl) {
		m.mu.Unlock()
		return true
	}
	m.pairing = false
	m.artifact = nil
	m.mu.Unlock()

	m.logger.Info("pairing code expired")
	m.publishPairing(nil)
	return false
}

func (m *Monitor) discardPairing() {
	m.mu.Lock()
	had := m.pairing || m.artifact != nil
	m.pairing = false
	m.artifact = nil
	m.mu.Unlock()

	if had {
		m.publishPairing(nil)
	}
}

func (m *Monitor) transition(to status.State) {
	from := m.machine.Current()
	changed, err := m.machine.Transition(to)
	if err != nil {
		m.logger.Warn("state transition rejected", zap.Error(err))
		return
	}
	if changed {
		m.logger.Info("connection state changed",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
}

func (m *Monitor) publishPairing(artifact *gateway.PairingArtifact) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{
		Kind:    bus.KindPairing,
		Payload: PairingEvent{Artifact: artifact},
	})
}
