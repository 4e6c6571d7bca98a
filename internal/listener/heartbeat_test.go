package listener

import (
	"strings"
	"testing"
	"time"
)

func newHeartbeatFixture(t *testing.T, interval time.Duration) (*heartbeat, *fakeConn) {
	t.Helper()
	m := New(newMemStore(), NewEventBus(testLogger()), Config{}, testLogger())
	t.Cleanup(m.Stop)

	conn := newFakeConn()
	s := &Session{
		mgr:     m,
		address: "192.168.1.40",
		conn:    conn,
		state:   StateActive,
		logger:  testLogger(),
	}
	hb := newHeartbeat(s, interval)
	s.heartbeat = hb
	t.Cleanup(hb.stop)
	return hb, conn
}

func probeCount(conn *fakeConn) int {
	n := 0
	for _, s := range conn.sent() {
		if strings.HasPrefix(s, "system/heart_beat") {
			n++
		}
	}
	return n
}

func TestHeartbeatProbesImmediately(t *testing.T) {
	hb, conn := newHeartbeatFixture(t, time.Minute)
	hb.start()

	if probeCount(conn) != 1 {
		t.Errorf("probes = %d, want 1 immediately after start", probeCount(conn))
	}
}

func TestHeartbeatMissedIntervalClosesConnection(t *testing.T) {
	hb, conn := newHeartbeatFixture(t, 20*time.Millisecond)
	hb.start()

	// No ack arrives: one elapsed interval must fail the session.
	waitFor(t, conn.isClosed, "connection close after missed heartbeat")

	// No probes after the failure.
	n := probeCount(conn)
	time.Sleep(50 * time.Millisecond)
	if got := probeCount(conn); got != n {
		t.Errorf("probes kept going after failure: %d -> %d", n, got)
	}
}

func TestHeartbeatAckKeepsProbing(t *testing.T) {
	hb, conn := newHeartbeatFixture(t, 20*time.Millisecond)
	hb.start()
	hb.ack(true)

	waitFor(t, func() bool { return probeCount(conn) >= 2 }, "second probe")
	if conn.isClosed() {
		t.Error("connection closed despite acked probe")
	}
}

func TestHeartbeatStopInhibitsProbes(t *testing.T) {
	hb, conn := newHeartbeatFixture(t, 20*time.Millisecond)
	hb.start()
	hb.stop()
	hb.stop() // idempotent

	time.Sleep(60 * time.Millisecond)
	if conn.isClosed() {
		t.Error("stop must not fail the session")
	}
	if n := probeCount(conn); n != 1 {
		t.Errorf("probes = %d after stop, want just the initial one", n)
	}
}
