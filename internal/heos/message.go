package heos

import (
	"fmt"
	"strconv"
	"strings"
)

// Message is a parsed HEOS key=value message ("pid=5&cur_pos=125000&duration=260000").
// Pair order is preserved: the player id is always the first pair and progress
// messages carry the position value in the last pair.
type Message struct {
	pairs []pair
}

type pair struct {
	key   string
	value string
}

// ParseMessage splits a raw message into ordered key=value pairs. A segment
// without '=' makes the whole message malformed.
func ParseMessage(raw string) (Message, error) {
	if raw == "" {
		return Message{}, fmt.Errorf("empty message")
	}
	segments := strings.Split(raw, "&")
	pairs := make([]pair, 0, len(segments))
	for _, seg := range segments {
		key, value, ok := strings.Cut(seg, "=")
		if !ok || key == "" {
			return Message{}, fmt.Errorf("malformed message segment %q", seg)
		}
		pairs = append(pairs, pair{key: key, value: value})
	}
	return Message{pairs: pairs}, nil
}

// Get returns the value for key and whether it was present.
func (m Message) Get(key string) (string, bool) {
	for _, p := range m.pairs {
		if p.key == key {
			return p.value, true
		}
	}
	return "", false
}

// PlayerID returns the value of the first pair, which HEOS defines as the
// player id on player-scoped messages.
func (m Message) PlayerID() (string, error) {
	if len(m.pairs) == 0 {
		return "", fmt.Errorf("message has no pairs")
	}
	if m.pairs[0].value == "" {
		return "", fmt.Errorf("message %q has empty player id", m.pairs[0].key)
	}
	return m.pairs[0].value, nil
}

// LastValue returns the value of the last pair. Progress messages carry the
// playback position there, in milliseconds.
func (m Message) LastValue() string {
	if len(m.pairs) == 0 {
		return ""
	}
	return m.pairs[len(m.pairs)-1].value
}

// LastMillis parses the last pair value as a millisecond count.
func (m Message) LastMillis() (int64, error) {
	v := m.LastValue()
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse milliseconds %q: %w", v, err)
	}
	if ms < 0 {
		return 0, fmt.Errorf("negative milliseconds %d", ms)
	}
	return ms, nil
}
