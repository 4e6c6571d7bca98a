package listener

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"heos-tracker/internal/heos"
	"heos-tracker/internal/store"
)

// TrackTracker derives per-player track sessions from the now-playing and
// progress event stream. A change event within the player's minimum-change
// window of the current track's start is a duplicate and is dropped; a later
// one finalizes the current track and may start a new one. Duration arrives
// separately via progress events and only the first value per track is kept.
// A track is announced as finished exactly once, when both the start record
// and the duration are in place, regardless of arrival order.
type TrackTracker struct {
	store  store.Store
	events *EventBus
	policy func(pid string) *store.Player
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	current map[string]*store.Track
}

// NewTrackTracker creates a tracker. policy resolves a player id to its
// stored record; it may return nil for an unknown player, which gets default
// policy (all media types accepted, default duplicate window, no submission
// flags).
func NewTrackTracker(st store.Store, events *EventBus, policy func(pid string) *store.Player, logger *slog.Logger) *TrackTracker {
	return &TrackTracker{
		store:   st,
		events:  events,
		policy:  policy,
		logger:  logger.With("component", "tracks"),
		now:     time.Now,
		current: make(map[string]*store.Track),
	}
}

// HandleNowPlaying processes one now-playing media report for a player.
func (t *TrackTracker) HandleNowPlaying(pid string, media heos.NowPlayingMedia) error {
	now := t.now().Unix()

	t.mu.Lock()
	defer t.mu.Unlock()

	player := t.policy(pid)

	if cur := t.current[pid]; cur != nil {
		if cur.StartedAt > 0 && now-cur.StartedAt <= player.MinChangeSeconds() {
			t.logger.Debug("duplicate now-playing change ignored", "pid", pid, "title", media.Song)
			return nil
		}
		delete(t.current, pid)
		if err := t.finishTrack(cur, now); err != nil {
			t.logger.Error("finish track", "pid", pid, "track", cur.ID, "err", err)
		}
	}

	if media.Type != "song" && player != nil && player.USBAndNetworkOnly {
		t.logger.Debug("non-song media skipped", "pid", pid, "type", media.Type)
		return nil
	}
	if player.IgnoresSource(string(media.MID)) {
		t.logger.Debug("ignored source", "pid", pid, "source", string(media.MID))
		return nil
	}

	tr := &store.Track{
		Player:    pid,
		Type:      media.Type,
		Source:    string(media.MID),
		Title:     media.Song,
		Artist:    media.Artist,
		Album:     media.Album,
		ImageURL:  media.ImageURL,
		StartedAt: now,
	}
	if player != nil {
		tr.Submit = player.Submit
	}
	if err := t.store.CreateTrack(tr); err != nil {
		return fmt.Errorf("create track: %w", err)
	}
	t.current[pid] = tr

	t.logger.Info("track started", "pid", pid, "title", tr.Title, "artist", tr.Artist)
	t.events.Emit(Event{Type: EventTrackStarted, Data: tr})
	return nil
}

// finishTrack stamps the end of a track. The finish time is written only
// once; the finished notification fires inside the same store transaction
// that observes both readiness flags set, so it cannot fire twice.
func (t *TrackTracker) finishTrack(cur *store.Track, now int64) error {
	notify := false
	var updated store.Track
	err := t.store.UpdateTrack(cur.ID, func(tr *store.Track) error {
		if tr.FinishedAt == 0 {
			tr.FinishedAt = now
		}
		tr.Ready.Track = true
		if tr.Finalized() && !tr.Notified {
			tr.Notified = true
			notify = true
		}
		updated = *tr
		return nil
	})
	if err != nil {
		return err
	}

	t.logger.Info("track finished", "pid", updated.Player, "title", updated.Title)
	if notify {
		t.events.Emit(Event{Type: EventTrackFinalized, Data: &updated})
	}
	return nil
}

// HandleProgress processes one playback progress message. Only the first
// reported duration per track is recorded; progress with no current track is
// dropped.
func (t *TrackTracker) HandleProgress(raw string) error {
	msg, err := heos.ParseMessage(raw)
	if err != nil {
		return fmt.Errorf("progress message: %w", err)
	}
	pid, err := msg.PlayerID()
	if err != nil {
		return fmt.Errorf("progress message: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current[pid]
	if cur == nil {
		return nil
	}
	if cur.Duration != 0 {
		return nil
	}

	ms, err := msg.LastMillis()
	if err != nil {
		return fmt.Errorf("progress message: %w", err)
	}
	seconds := ms / 1000

	notify := false
	var updated store.Track
	err = t.store.UpdateTrack(cur.ID, func(tr *store.Track) error {
		if tr.Duration == 0 {
			tr.Duration = seconds
			tr.Ready.NowPlaying = true
			if tr.Finalized() && !tr.Notified {
				tr.Notified = true
				notify = true
			}
		}
		updated = *tr
		return nil
	})
	if err != nil {
		return fmt.Errorf("save duration: %w", err)
	}
	*cur = updated

	t.logger.Debug("duration recorded", "pid", pid, "seconds", seconds)
	if notify {
		t.events.Emit(Event{Type: EventTrackFinalized, Data: &updated})
	}
	return nil
}
