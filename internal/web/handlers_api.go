package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"heos-tracker/internal/store"
)

func (s *Server) handleAPIListPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.manager.Store().ListPlayers()
	if err != nil {
		s.logger.Error("list players", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, players)
}

// updatePlayerRequest carries the editable policy fields. Pointer fields
// distinguish "not sent" from zero values.
type updatePlayerRequest struct {
	IgnoreSources       []string           `json:"ignore_sources"`
	Submit              *store.SubmitFlags `json:"submit"`
	MinNowPlayingChange *int               `json:"min_now_playing_change"`
	USBAndNetworkOnly   *bool              `json:"usb_and_network_only"`
}

func (s *Server) handleAPIUpdatePlayer(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	address := r.URL.Query().Get("address")

	p, err := s.manager.Store().GetPlayer(address, pid)
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "player not found"})
		return
	}
	if err != nil {
		s.logger.Error("get player", "pid", pid, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	var req updatePlayerRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.IgnoreSources != nil {
		p.IgnoreSources = req.IgnoreSources
	}
	if req.Submit != nil {
		p.Submit = *req.Submit
	}
	if req.MinNowPlayingChange != nil {
		p.MinNowPlayingChange = *req.MinNowPlayingChange
	}
	if req.USBAndNetworkOnly != nil {
		p.USBAndNetworkOnly = *req.USBAndNetworkOnly
	}

	if err := s.manager.Store().SavePlayer(p); err != nil {
		s.logger.Error("save player", "pid", pid, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.manager.RebuildPlayerIndex()

	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAPIListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Sessions())
}

func (s *Server) handleAPIRecentTracks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	tracks, err := s.manager.Store().RecentTracks(limit)
	if err != nil {
		s.logger.Error("recent tracks", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, tracks)
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
