package listener

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"heos-tracker/internal/heos"
	"heos-tracker/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memStore is a minimal in-memory store for listener tests.
type memStore struct {
	mu      sync.Mutex
	players map[string]*store.Player
	tracks  map[uint64]*store.Track
	nextID  uint64
}

func newMemStore() *memStore {
	return &memStore{
		players: make(map[string]*store.Player),
		tracks:  make(map[uint64]*store.Track),
	}
}

func (m *memStore) SavePlayer(p *store.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[p.Address+"|"+p.PID] = p
	return nil
}

func (m *memStore) GetPlayer(address, pid string) (*store.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[address+"|"+pid]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) ListPlayers() ([]*store.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*store.Player, 0, len(m.players))
	for _, p := range m.players {
		list = append(list, p)
	}
	return list, nil
}

func (m *memStore) CreateTrack(tr *store.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	tr.ID = m.nextID
	cp := *tr
	m.tracks[tr.ID] = &cp
	return nil
}

func (m *memStore) GetTrack(id uint64) (*store.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.tracks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *tr
	return &cp, nil
}

func (m *memStore) UpdateTrack(id uint64, fn func(tr *store.Track) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.tracks[id]
	if !ok {
		return store.ErrNotFound
	}
	cp := *tr
	if err := fn(&cp); err != nil {
		return err
	}
	cp.ID = id
	m.tracks[id] = &cp
	return nil
}

func (m *memStore) RecentTracks(limit int) ([]*store.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.tracks))
	for id := range m.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if limit <= 0 {
		limit = 50
	}
	var list []*store.Track
	for _, id := range ids {
		if len(list) == limit {
			break
		}
		cp := *m.tracks[id]
		list = append(list, &cp)
	}
	return list, nil
}

func (m *memStore) Close() error { return nil }

// fakeConn is a scripted protocol connection.
type fakeConn struct {
	mu      sync.Mutex
	sends   []string
	events  chan heos.Event
	closed  bool
	sendErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan heos.Event, 16)}
}

func (c *fakeConn) Send(group, command string, params map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	s := group + "/" + command
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i == 0 {
			s += "?"
		} else {
			s += "&"
		}
		s += fmt.Sprintf("%s=%s", k, params[k])
	}
	c.sends = append(c.sends, s)
	return nil
}

func (c *fakeConn) Events() <-chan heos.Event {
	return c.events
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.events <- heos.Event{Kind: heos.EventClosed}
		close(c.events)
	}
	return nil
}

func (c *fakeConn) push(ev heos.Event) {
	c.events <- ev
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sends...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
