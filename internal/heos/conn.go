package heos

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const writeTimeout = 5 * time.Second

// Conn is one TCP connection to a HEOS device. Decoded frames are delivered
// in arrival order on a single channel; the channel is closed after the final
// EventClosed once the transport is gone.
type Conn struct {
	address string
	tcp     net.Conn
	events  chan Event
	logger  *slog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Connect dials a HEOS device. The address may omit the port, in which case
// the HEOS CLI default is used.
func Connect(ctx context.Context, address string, logger *slog.Logger) (*Conn, error) {
	hostport := address
	if _, _, err := net.SplitHostPort(address); err != nil {
		hostport = net.JoinHostPort(address, DefaultPort)
	}

	var d net.Dialer
	tcp, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", hostport, err)
	}

	c := &Conn{
		address: address,
		tcp:     tcp,
		events:  make(chan Event, 64),
		logger:  logger.With("component", "heos", "address", address),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the ordered event channel for this connection.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Send writes one command frame: heos://group/command?key=value&...
// Parameter order is deterministic (sorted by key).
func (c *Conn) Send(group, command string, params map[string]string) error {
	var b strings.Builder
	b.WriteString("heos://")
	b.WriteString(group)
	b.WriteString("/")
	b.WriteString(command)
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sep := "?"
		for _, k := range keys {
			b.WriteString(sep)
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(params[k])
			sep = "&"
		}
	}
	b.WriteString("\r\n")

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.tcp.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.tcp.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("send %s/%s: %w", group, command, err)
	}
	return nil
}

// Close shuts the transport down. The event channel delivers a final
// EventClosed with a nil Err and is then closed.
func (c *Conn) Close() error {
	c.closed.Store(true)
	return c.tcp.Close()
}

func (c *Conn) readLoop() {
	scanner := bufio.NewScanner(c.tcp)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			c.logger.Warn("discarding unparsable frame", "err", err)
			c.events <- Event{Kind: EventError, Err: fmt.Errorf("decode frame: %w", err)}
			continue
		}

		// The device acknowledges slow commands with an interim frame
		// before the real response; it carries no data.
		if strings.Contains(env.Heos.Message, "command under process") {
			continue
		}

		kind, ok := classify(env.Heos.Command)
		if !ok {
			c.logger.Debug("ignoring frame", "command", env.Heos.Command)
			continue
		}

		c.events <- Event{
			Kind:    kind,
			Result:  env.Heos.Result,
			Message: env.Heos.Message,
			Payload: env.Payload,
		}
	}

	err := scanner.Err()
	if c.closed.Load() {
		err = nil
	} else if err == nil {
		err = fmt.Errorf("connection closed by device")
	}
	c.events <- Event{Kind: EventClosed, Err: err}
	close(c.events)
}

func classify(command string) (EventKind, bool) {
	switch command {
	case "player/get_players":
		return EventPlayersList, true
	case "player/get_now_playing_media":
		return EventNowPlayingMedia, true
	case "event/player_now_playing_changed":
		return EventNowPlayingChanged, true
	case "event/player_now_playing_progress":
		return EventNowPlayingProgress, true
	case "system/heart_beat":
		return EventHeartbeatAck, true
	default:
		return 0, false
	}
}
