// Package listener owns the device session lifecycle: discovery feeds
// addresses in, one session per address consumes protocol events in arrival
// order, a heartbeat supervises liveness, and failed sessions are handed to a
// bounded-retry reconnect supervisor. Track state per player is derived by
// the TrackTracker.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"heos-tracker/internal/discovery"
	"heos-tracker/internal/heos"
	"heos-tracker/internal/store"
)

// Config holds listener configuration.
type Config struct {
	DiscoveryTimeout     time.Duration
	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	ReconnectMaxAttempts int // 0 = retry forever
}

// Conn is the protocol connection surface the listener consumes. Implemented
// by *heos.Conn; tests substitute a scripted fake.
type Conn interface {
	Send(group, command string, params map[string]string) error
	Events() <-chan heos.Event
	Close() error
}

// ConnectFunc establishes a protocol connection to a device address.
type ConnectFunc func(ctx context.Context, address string) (Conn, error)

// Decorator customizes a session right after protocol registration, before
// it is marked active. Decorators are registered statically at construction.
type Decorator func(s *Session) error

// Option configures a Manager.
type Option func(*Manager)

// WithConnectFunc replaces the transport used to reach devices.
func WithConnectFunc(fn ConnectFunc) Option {
	return func(m *Manager) { m.connect = fn }
}

// WithDecorators registers session decorators.
func WithDecorators(decs ...Decorator) Option {
	return func(m *Manager) { m.decorators = append(m.decorators, decs...) }
}

// WithClock replaces the track state machine's clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.tracks.now = now }
}

// Manager owns every device session and the shared per-address reconnect
// state. One Manager per process.
type Manager struct {
	store      store.Store
	events     *EventBus
	logger     *slog.Logger
	config     Config
	connect    ConnectFunc
	decorators []Decorator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sessionsMu sync.Mutex
	sessions   map[string]*Session

	// In-progress reconnect loops by address. Inspected and set under one
	// lock so the two failure sources (heartbeat timeout, transport error)
	// can never start two loops for the same address.
	reconnectMu  sync.Mutex
	reconnecting map[string]bool

	// In-memory pid -> player record index, rebuilt from the store at start.
	playersMu sync.RWMutex
	players   map[string]*store.Player

	tracks *TrackTracker
}

// New creates a Manager. The default transport is the HEOS TCP client.
func New(st store.Store, events *EventBus, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = 10 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:        st,
		events:       events,
		logger:       logger,
		config:       cfg,
		ctx:          ctx,
		cancel:       cancel,
		sessions:     make(map[string]*Session),
		reconnecting: make(map[string]bool),
		players:      make(map[string]*store.Player),
	}
	m.connect = func(ctx context.Context, address string) (Conn, error) {
		return heos.Connect(ctx, address, logger)
	}
	m.tracks = NewTrackTracker(st, events, m.playerPolicy, logger)
	for _, opt := range opts {
		opt(m)
	}
	m.RebuildPlayerIndex()
	return m
}

// Events returns the event bus.
func (m *Manager) Events() *EventBus {
	return m.events
}

// Store returns the store.
func (m *Manager) Store() store.Store {
	return m.store
}

// Tracks returns the track state machine.
func (m *Manager) Tracks() *TrackTracker {
	return m.tracks
}

// DiscoverAndConnect runs device discovery and starts a session per
// discovered address. Connection establishment is asynchronous: discovery
// does not wait for sessions to come up, and individual connect failures are
// handed to the reconnect supervisor. Finding no devices at all is fatal and
// returned to the caller.
func (m *Manager) DiscoverAndConnect(ctx context.Context) error {
	_, err := discovery.Discover(ctx, m.config.DiscoveryTimeout, m.logger, func(address string) {
		m.events.Emit(Event{Type: EventDeviceDiscovered, Data: map[string]interface{}{"address": address}})
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.Connect(address); err != nil {
				m.logger.Warn("initial connect failed", "address", address, "err", err)
				m.scheduleReconnect(address)
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("discover devices: %w", err)
	}
	return nil
}

// Connect establishes a session to one device address. No-op when a live
// session for the address already exists.
func (m *Manager) Connect(address string) error {
	m.sessionsMu.Lock()
	_, exists := m.sessions[address]
	m.sessionsMu.Unlock()
	if exists {
		return nil
	}

	s, err := m.openSession(address)
	if err != nil {
		return err
	}

	m.sessionsMu.Lock()
	if _, exists := m.sessions[address]; exists {
		// Lost the race to another connect for the same address.
		m.sessionsMu.Unlock()
		s.Close()
		return nil
	}
	m.sessions[address] = s
	m.sessionsMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run()
	}()
	s.heartbeat.start()
	return nil
}

func (m *Manager) dropSession(s *Session) {
	m.sessionsMu.Lock()
	if m.sessions[s.address] == s {
		delete(m.sessions, s.address)
	}
	m.sessionsMu.Unlock()
}

// SessionInfo is a point-in-time view of one session for the status API.
type SessionInfo struct {
	Address string `json:"address"`
	State   string `json:"state"`
}

// Sessions returns the current sessions and their lifecycle states.
func (m *Manager) Sessions() []SessionInfo {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, SessionInfo{Address: s.address, State: s.State().String()})
	}
	return infos
}

// Stop closes every live session and waits for all session, heartbeat, and
// reconnect goroutines to finish. Reconnect loops mid-sleep are cancelled.
func (m *Manager) Stop() {
	m.cancel()

	m.sessionsMu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessionsMu.Unlock()

	for _, s := range sessions {
		m.logger.Info("closing session", "address", s.address)
		s.Close()
	}
	m.wg.Wait()
}
