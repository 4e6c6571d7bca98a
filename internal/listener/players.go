package listener

import (
	"encoding/json"
	"errors"
	"fmt"

	"heos-tracker/internal/heos"
	"heos-tracker/internal/store"
)

// RebuildPlayerIndex loads all stored player records into the in-memory pid
// index. Called once at construction; safe to call again after external
// edits to the store.
func (m *Manager) RebuildPlayerIndex() {
	players, err := m.store.ListPlayers()
	if err != nil {
		m.logger.Error("load player index", "err", err)
		return
	}
	m.playersMu.Lock()
	m.players = make(map[string]*store.Player, len(players))
	for _, p := range players {
		m.players[p.PID] = p
	}
	m.playersMu.Unlock()
}

// playerPolicy resolves a pid to its stored record. Returns nil for players
// not yet seen.
func (m *Manager) playerPolicy(pid string) *store.Player {
	m.playersMu.RLock()
	defer m.playersMu.RUnlock()
	return m.players[pid]
}

// handlePlayers upserts the player roster reported by one device. Known
// players keep their policy fields (submission flags, ignored sources,
// duplicate window); descriptive fields are last-write-wins. A malformed
// roster entry is skipped, not fatal.
func (m *Manager) handlePlayers(address string, payload json.RawMessage) error {
	var entries []json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return fmt.Errorf("decode players payload: %w", err)
	}

	now := m.tracks.now()
	count := 0
	for _, entry := range entries {
		var hp heos.Player
		if err := json.Unmarshal(entry, &hp); err != nil {
			m.logger.Warn("malformed player entry skipped", "address", address, "err", err)
			continue
		}
		pid := string(hp.PID)
		if pid == "" {
			m.logger.Warn("player entry without pid skipped", "address", address)
			continue
		}
		var info map[string]any
		if err := json.Unmarshal(entry, &info); err != nil {
			info = nil
		}

		p, err := m.store.GetPlayer(address, pid)
		switch {
		case errors.Is(err, store.ErrNotFound):
			p = &store.Player{
				Address:             address,
				PID:                 pid,
				FirstSeen:           now,
				MinNowPlayingChange: store.DefaultMinNowPlayingChange,
			}
			m.logger.Info("new player", "address", address, "pid", pid, "name", hp.Name)
		case err != nil:
			m.logger.Error("load player", "address", address, "pid", pid, "err", err)
			continue
		}

		p.Name = hp.Name
		p.Model = hp.Model
		p.Info = info
		p.LastSeen = now
		if err := m.store.SavePlayer(p); err != nil {
			m.logger.Error("save player", "address", address, "pid", pid, "err", err)
			continue
		}

		m.playersMu.Lock()
		m.players[pid] = p
		m.playersMu.Unlock()
		count++
	}

	m.events.Emit(Event{Type: EventPlayersUpdated, Data: map[string]interface{}{
		"address": address,
		"players": count,
	}})
	return nil
}
