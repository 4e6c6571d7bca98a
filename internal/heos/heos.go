// Package heos implements a client for the HEOS CLI protocol: a line-oriented
// JSON command/response protocol with asynchronous push events, spoken over a
// long-lived TCP connection on port 1255.
package heos

import "encoding/json"

// DefaultPort is the TCP port HEOS devices listen on.
const DefaultPort = "1255"

// EventKind identifies a decoded protocol event.
type EventKind int

const (
	// EventPlayersList is the response to player/get_players.
	EventPlayersList EventKind = iota
	// EventNowPlayingMedia is the response to player/get_now_playing_media.
	EventNowPlayingMedia
	// EventNowPlayingChanged is the push event announcing a media change.
	EventNowPlayingChanged
	// EventNowPlayingProgress is the push event carrying playback position.
	EventNowPlayingProgress
	// EventHeartbeatAck is the response to system/heart_beat.
	EventHeartbeatAck
	// EventError is a decode failure for one frame; the connection stays up.
	EventError
	// EventClosed is the final event before the channel closes. Err is nil
	// when the close was requested locally.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventPlayersList:
		return "players_list"
	case EventNowPlayingMedia:
		return "now_playing_media"
	case EventNowPlayingChanged:
		return "now_playing_changed"
	case EventNowPlayingProgress:
		return "now_playing_progress"
	case EventHeartbeatAck:
		return "heartbeat_ack"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one decoded protocol frame, delivered in arrival order over a
// single channel per connection.
type Event struct {
	Kind    EventKind
	Result  string          // "success" or "fail" for command responses, empty for push events
	Message string          // raw key=value message from the heos envelope
	Payload json.RawMessage // response payload, if any
	Err     error           // set for EventError and error-path EventClosed
}

// envelope is the wire format of every HEOS frame.
type envelope struct {
	Heos struct {
		Command string `json:"command"`
		Result  string `json:"result"`
		Message string `json:"message"`
	} `json:"heos"`
	Payload json.RawMessage `json:"payload"`
}
