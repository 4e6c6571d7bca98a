package listener

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestReconnectStopsAfterMaxAttempts(t *testing.T) {
	var attempts atomic.Int32
	connect := func(ctx context.Context, address string) (Conn, error) {
		attempts.Add(1)
		return nil, errors.New("device unreachable")
	}

	m := New(newMemStore(), NewEventBus(testLogger()), Config{
		ReconnectInterval:    10 * time.Millisecond,
		ReconnectMaxAttempts: 3,
	}, testLogger(), WithConnectFunc(connect))
	t.Cleanup(m.Stop)

	m.scheduleReconnect("192.168.1.40")

	waitFor(t, func() bool { return attempts.Load() == 3 }, "three attempts")
	time.Sleep(50 * time.Millisecond)
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want exactly 3", got)
	}
}

func TestReconnectUnlimitedUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	connect := func(ctx context.Context, address string) (Conn, error) {
		if attempts.Add(1) < 4 {
			return nil, errors.New("device unreachable")
		}
		return newFakeConn(), nil
	}

	m := New(newMemStore(), NewEventBus(testLogger()), Config{
		ReconnectInterval:    10 * time.Millisecond,
		ReconnectMaxAttempts: 0,
		HeartbeatInterval:    time.Minute,
	}, testLogger(), WithConnectFunc(connect))
	t.Cleanup(m.Stop)

	m.scheduleReconnect("192.168.1.40")

	waitFor(t, func() bool { return len(m.Sessions()) == 1 }, "session after retries")
	if got := attempts.Load(); got != 4 {
		t.Errorf("attempts = %d, want 4", got)
	}
}

func TestReconnectGuardPreventsConcurrentLoops(t *testing.T) {
	var attempts atomic.Int32
	connect := func(ctx context.Context, address string) (Conn, error) {
		attempts.Add(1)
		time.Sleep(50 * time.Millisecond)
		return nil, errors.New("device unreachable")
	}

	m := New(newMemStore(), NewEventBus(testLogger()), Config{
		ReconnectInterval:    10 * time.Millisecond,
		ReconnectMaxAttempts: 1,
	}, testLogger(), WithConnectFunc(connect))
	t.Cleanup(m.Stop)

	m.scheduleReconnect("192.168.1.40")
	m.scheduleReconnect("192.168.1.40") // in progress: must be a no-op

	waitFor(t, func() bool { return attempts.Load() >= 1 }, "first attempt")
	time.Sleep(100 * time.Millisecond)
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (single loop)", got)
	}
}

func TestReconnectGuardClearedAfterExit(t *testing.T) {
	var attempts atomic.Int32
	connect := func(ctx context.Context, address string) (Conn, error) {
		attempts.Add(1)
		return nil, errors.New("device unreachable")
	}

	m := New(newMemStore(), NewEventBus(testLogger()), Config{
		ReconnectInterval:    5 * time.Millisecond,
		ReconnectMaxAttempts: 1,
	}, testLogger(), WithConnectFunc(connect))
	t.Cleanup(m.Stop)

	m.scheduleReconnect("192.168.1.40")
	waitFor(t, func() bool {
		m.reconnectMu.Lock()
		defer m.reconnectMu.Unlock()
		return !m.reconnecting["192.168.1.40"]
	}, "guard cleared")

	m.scheduleReconnect("192.168.1.40")
	waitFor(t, func() bool { return attempts.Load() == 2 }, "second loop after guard cleared")
}

func TestReconnectCancelledByStop(t *testing.T) {
	var attempts atomic.Int32
	connect := func(ctx context.Context, address string) (Conn, error) {
		attempts.Add(1)
		return nil, errors.New("device unreachable")
	}

	m := New(newMemStore(), NewEventBus(testLogger()), Config{
		ReconnectInterval:    time.Hour, // sleep must be interrupted by Stop
		ReconnectMaxAttempts: 0,
	}, testLogger(), WithConnectFunc(connect))

	m.scheduleReconnect("192.168.1.40")
	waitFor(t, func() bool { return attempts.Load() == 1 }, "first attempt")

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the reconnect sleep")
	}
}
