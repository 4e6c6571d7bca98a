package listener

import (
	"sync"
	"time"
)

// heartbeat supervises one session's liveness. A probe is sent immediately on
// start and then once per interval; sending a probe clears the success flag,
// and an acknowledgment sets it again. When an interval elapses with the flag
// still cleared the session is failed and probing stops — a session being
// torn down gets no further probes. At most one probe is outstanding.
type heartbeat struct {
	session  *Session
	interval time.Duration

	mu sync.Mutex
	ok bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newHeartbeat(s *Session, interval time.Duration) *heartbeat {
	return &heartbeat{session: s, interval: interval, stopCh: make(chan struct{})}
}

func (h *heartbeat) start() {
	h.probe()
	h.session.mgr.wg.Add(1)
	go h.loop()
}

func (h *heartbeat) loop() {
	defer h.session.mgr.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.mu.Lock()
			ok := h.ok
			h.mu.Unlock()
			if !ok {
				h.session.failHeartbeat()
				return
			}
			h.probe()
		}
	}
}

// probe clears the success flag and sends one liveness command. A send error
// is only logged: the transport failure will surface as a close event.
func (h *heartbeat) probe() {
	h.mu.Lock()
	h.ok = false
	h.mu.Unlock()
	if err := h.session.conn.Send("system", "heart_beat", nil); err != nil {
		h.session.logger.Warn("send heartbeat", "err", err)
	}
}

// ack records a probe acknowledgment.
func (h *heartbeat) ack(success bool) {
	h.mu.Lock()
	h.ok = success
	h.mu.Unlock()
}

// stop inhibits all further probing. Safe to call multiple times.
func (h *heartbeat) stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}
