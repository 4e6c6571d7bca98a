package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"heos-tracker/internal/heos"
)

// State is a session lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateDegraded
	StateClosing
	StateClosed
)

func (st State) String() string {
	switch st {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const connectTimeout = 15 * time.Second

// Session owns one physical device connection from open to close. It is the
// single consumer of the connection's event channel, so no two events from
// the same device are ever handled concurrently.
type Session struct {
	mgr       *Manager
	address   string
	conn      Conn
	logger    *slog.Logger
	heartbeat *heartbeat

	mu            sync.Mutex
	state         State
	operatorClose bool
}

// openSession dials a device and runs the registration sequence: structured
// single-line responses, change-event subscription, current player list.
// The sequence is composed before the session is marked active; any failure
// closes the transport and surfaces as a connect error.
func (m *Manager) openSession(address string) (*Session, error) {
	s := &Session{
		mgr:     m,
		address: address,
		state:   StateConnecting,
		logger:  m.logger.With("component", "session", "address", address),
	}
	s.emitState(StateConnecting)

	ctx, cancel := context.WithTimeout(m.ctx, connectTimeout)
	defer cancel()

	conn, err := m.connect(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s.conn = conn

	registration := []struct {
		group   string
		command string
		params  map[string]string
	}{
		// Prettified responses span multiple lines and break frame parsing;
		// force them off before anything else.
		{"system", "prettify_json_response", map[string]string{"enable": "off"}},
		{"system", "register_for_change_events", map[string]string{"enable": "on"}},
		{"player", "get_players", nil},
	}
	for _, reg := range registration {
		if err := conn.Send(reg.group, reg.command, reg.params); err != nil {
			conn.Close()
			return nil, fmt.Errorf("register %s/%s: %w", reg.group, reg.command, err)
		}
	}

	for _, dec := range m.decorators {
		if err := dec(s); err != nil {
			conn.Close()
			return nil, fmt.Errorf("session decorator: %w", err)
		}
	}

	s.heartbeat = newHeartbeat(s, m.config.HeartbeatInterval)
	s.setState(StateActive)
	s.logger.Info("session active")
	return s, nil
}

// Address returns the device address this session is bound to.
func (s *Session) Address() string {
	return s.address
}

// Send issues a command on the underlying connection.
func (s *Session) Send(group, command string, params map[string]string) error {
	return s.conn.Send(group, command, params)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// run is the dispatch loop: it drains the connection's ordered event channel
// until the transport is gone, then tears the session down and, on an error
// path, hands the address to the reconnect supervisor.
func (s *Session) run() {
	for ev := range s.conn.Events() {
		s.dispatch(ev)
	}

	s.heartbeat.stop()

	s.mu.Lock()
	operator := s.operatorClose
	s.mu.Unlock()

	s.setState(StateClosed)
	s.mgr.dropSession(s)

	if !operator && s.mgr.ctx.Err() == nil {
		s.logger.Info("session lost, handing to reconnect supervisor")
		s.mgr.scheduleReconnect(s.address)
	}
}

// dispatch routes one decoded event. Handler errors are logged with context
// and never terminate the loop; only transport-level close ends a session.
func (s *Session) dispatch(ev heos.Event) {
	var err error
	switch ev.Kind {
	case heos.EventPlayersList:
		if ev.Result == "fail" {
			err = fmt.Errorf("get_players failed: %s", ev.Message)
			break
		}
		err = s.mgr.handlePlayers(s.address, ev.Payload)
	case heos.EventNowPlayingChanged:
		err = s.requestNowPlaying(ev.Message)
	case heos.EventNowPlayingMedia:
		if ev.Result == "fail" {
			err = fmt.Errorf("get_now_playing_media failed: %s", ev.Message)
			break
		}
		err = s.handleNowPlayingMedia(ev)
	case heos.EventNowPlayingProgress:
		err = s.mgr.tracks.HandleProgress(ev.Message)
	case heos.EventHeartbeatAck:
		s.handleHeartbeatAck(ev.Result == "success")
	case heos.EventError:
		s.logger.Warn("malformed frame discarded", "err", ev.Err)
	case heos.EventClosed:
		if ev.Err != nil {
			s.logger.Error("transport closed", "err", ev.Err)
		}
		s.setState(StateClosing)
	}
	if err != nil {
		s.logger.Error("event handler", "event", ev.Kind.String(), "err", err)
	}
}

// requestNowPlaying asks the device for the media behind a change event.
func (s *Session) requestNowPlaying(message string) error {
	msg, err := heos.ParseMessage(message)
	if err != nil {
		return fmt.Errorf("change event: %w", err)
	}
	pid, err := msg.PlayerID()
	if err != nil {
		return fmt.Errorf("change event: %w", err)
	}
	return s.conn.Send("player", "get_now_playing_media", map[string]string{"pid": pid})
}

func (s *Session) handleNowPlayingMedia(ev heos.Event) error {
	msg, err := heos.ParseMessage(ev.Message)
	if err != nil {
		return fmt.Errorf("now playing media: %w", err)
	}
	pid, err := msg.PlayerID()
	if err != nil {
		return fmt.Errorf("now playing media: %w", err)
	}
	var media heos.NowPlayingMedia
	if err := json.Unmarshal(ev.Payload, &media); err != nil {
		return fmt.Errorf("now playing media payload: %w", err)
	}
	return s.mgr.tracks.HandleNowPlaying(pid, media)
}

// handleHeartbeatAck records the probe outcome. An explicit failure result
// degrades the session; the next missed interval then closes it.
func (s *Session) handleHeartbeatAck(ok bool) {
	s.heartbeat.ack(ok)
	s.mu.Lock()
	switch {
	case ok && s.state == StateDegraded:
		s.state = StateActive
		s.mu.Unlock()
		s.emitState(StateActive)
	case !ok && s.state == StateActive:
		s.state = StateDegraded
		s.mu.Unlock()
		s.logger.Warn("heartbeat reported failure, session degraded")
		s.emitState(StateDegraded)
	default:
		s.mu.Unlock()
	}
}

// failHeartbeat closes the transport after a missed probe interval. The
// dispatch loop then observes the close and schedules the reconnect.
func (s *Session) failHeartbeat() {
	s.logger.Error("heartbeat timed out, closing session")
	s.setState(StateClosing)
	s.conn.Close()
}

// Close shuts the session down on operator request: no reconnect follows.
func (s *Session) Close() {
	s.mu.Lock()
	s.operatorClose = true
	s.mu.Unlock()
	s.setState(StateClosing)
	s.heartbeat.stop()
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("close transport", "err", err)
	}
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.state == next || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()
	s.emitState(next)
}

func (s *Session) emitState(st State) {
	s.logger.Debug("session state", "state", st.String())
	s.mgr.events.Emit(Event{Type: EventSessionState, Data: map[string]interface{}{
		"address": s.address,
		"state":   st.String(),
	}})
}
