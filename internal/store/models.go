package store

import "time"

// DefaultMinNowPlayingChange is the minimum time in seconds between
// now-playing changes for a player before a change event is treated as real
// rather than a duplicate.
const DefaultMinNowPlayingChange = 5

// SubmitFlags is a per-surface submission policy or status.
type SubmitFlags struct {
	NowPlaying bool `json:"now_playing"`
	Track      bool `json:"track"`
}

// ReadyFlags gate cross-event mutation of a track. A track is finalized only
// once both are set.
type ReadyFlags struct {
	NowPlaying bool `json:"now_playing"`
	Track      bool `json:"track"`
}

// Player represents one playable endpoint reachable through a device
// connection, keyed by (address, pid). The info payload is last-write-wins on
// every get_players response; the policy fields are operator-managed and
// survive upserts.
type Player struct {
	Address             string         `json:"address"`
	PID                 string         `json:"pid"`
	Name                string         `json:"name,omitempty"`
	Model               string         `json:"model,omitempty"`
	Info                map[string]any `json:"info,omitempty"`
	IgnoreSources       []string       `json:"ignore_sources,omitempty"`
	Submit              SubmitFlags    `json:"submit"`
	MinNowPlayingChange int            `json:"minimum_time_between_now_playing_change,omitempty"`
	USBAndNetworkOnly   bool           `json:"usb_and_network_only,omitempty"`
	FirstSeen           time.Time      `json:"first_seen"`
	LastSeen            time.Time      `json:"last_seen"`
}

// MinChangeSeconds returns the configured duplicate-change threshold, falling
// back to the default when unset.
func (p *Player) MinChangeSeconds() int64 {
	if p == nil || p.MinNowPlayingChange <= 0 {
		return DefaultMinNowPlayingChange
	}
	return int64(p.MinNowPlayingChange)
}

// IgnoresSource reports whether a source id is excluded from tracking for
// this player.
func (p *Player) IgnoresSource(source string) bool {
	if p == nil || source == "" {
		return false
	}
	for _, s := range p.IgnoreSources {
		if s == source {
			return true
		}
	}
	return false
}

// Track represents one real-world listening event for one player.
// Duration and FinishedAt are each written at most once; Notified flips to
// true exactly once, on the update that sets the second readiness flag.
type Track struct {
	ID           uint64      `json:"id"`
	Player       string      `json:"player"`
	Type         string      `json:"type,omitempty"`
	Source       string      `json:"source,omitempty"`
	Title        string      `json:"title,omitempty"`
	Artist       string      `json:"artist,omitempty"`
	Album        string      `json:"album,omitempty"`
	ImageURL     string      `json:"image_url,omitempty"`
	StartedAt    int64       `json:"started_at"`
	Duration     int64       `json:"duration,omitempty"`
	FinishedAt   int64       `json:"finished_at,omitempty"`
	Ready        ReadyFlags  `json:"ready"`
	Submit       SubmitFlags `json:"submit"`
	SubmitStatus SubmitFlags `json:"submit_status"`
	Notified     bool        `json:"notified"`
}

// Finalized reports whether both readiness flags are set.
func (t *Track) Finalized() bool {
	return t.Ready.NowPlaying && t.Ready.Track
}
