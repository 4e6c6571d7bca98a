package heos

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestDevice starts a TCP listener that plays the device side of one
// connection. The returned channel delivers the accepted conn.
func newTestDevice(t *testing.T) (addr string, accepted chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted = make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()
	return ln.Addr().String(), accepted
}

func mustConnect(t *testing.T, addr string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Connect(ctx, addr, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func recvEvent(t *testing.T, c *Conn) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestConnReceivesClassifiedFrames(t *testing.T) {
	addr, accepted := newTestDevice(t)
	c := mustConnect(t, addr)
	device := <-accepted
	defer device.Close()

	frames := []string{
		`{"heos":{"command":"player/get_players","result":"success","message":""},"payload":[{"name":"Den","pid":5}]}`,
		`{"heos":{"command":"event/player_now_playing_changed","message":"pid=5"}}`,
		`{"heos":{"command":"event/player_now_playing_progress","message":"pid=5&cur_pos=1000&duration=200000"}}`,
	}
	for _, f := range frames {
		if _, err := device.Write([]byte(f + "\r\n")); err != nil {
			t.Fatal(err)
		}
	}

	ev := recvEvent(t, c)
	if ev.Kind != EventPlayersList {
		t.Fatalf("kind = %v, want players_list", ev.Kind)
	}
	if ev.Result != "success" {
		t.Errorf("result = %q, want success", ev.Result)
	}
	if len(ev.Payload) == 0 {
		t.Error("players_list payload empty")
	}

	ev = recvEvent(t, c)
	if ev.Kind != EventNowPlayingChanged {
		t.Fatalf("kind = %v, want now_playing_changed", ev.Kind)
	}
	if ev.Message != "pid=5" {
		t.Errorf("message = %q, want pid=5", ev.Message)
	}

	ev = recvEvent(t, c)
	if ev.Kind != EventNowPlayingProgress {
		t.Fatalf("kind = %v, want now_playing_progress", ev.Kind)
	}
}

func TestConnSkipsInterimAndUnknownFrames(t *testing.T) {
	addr, accepted := newTestDevice(t)
	c := mustConnect(t, addr)
	device := <-accepted
	defer device.Close()

	frames := []string{
		`{"heos":{"command":"player/get_now_playing_media","result":"success","message":"command under process"}}`,
		`{"heos":{"command":"event/player_volume_changed","message":"pid=5&level=10"}}`,
		`{"heos":{"command":"system/heart_beat","result":"success","message":""}}`,
	}
	for _, f := range frames {
		if _, err := device.Write([]byte(f + "\r\n")); err != nil {
			t.Fatal(err)
		}
	}

	// Only the heartbeat ack should come through.
	ev := recvEvent(t, c)
	if ev.Kind != EventHeartbeatAck {
		t.Fatalf("kind = %v, want heartbeat_ack", ev.Kind)
	}
}

func TestConnMalformedFrameKeepsConnection(t *testing.T) {
	addr, accepted := newTestDevice(t)
	c := mustConnect(t, addr)
	device := <-accepted
	defer device.Close()

	if _, err := device.Write([]byte("this is not json\r\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := device.Write([]byte(`{"heos":{"command":"system/heart_beat","result":"success","message":""}}` + "\r\n")); err != nil {
		t.Fatal(err)
	}

	ev := recvEvent(t, c)
	if ev.Kind != EventError {
		t.Fatalf("kind = %v, want error", ev.Kind)
	}
	if ev.Err == nil {
		t.Error("error event has nil Err")
	}

	ev = recvEvent(t, c)
	if ev.Kind != EventHeartbeatAck {
		t.Fatalf("kind after error = %v, want heartbeat_ack", ev.Kind)
	}
}

func TestConnSendFormat(t *testing.T) {
	addr, accepted := newTestDevice(t)
	c := mustConnect(t, addr)
	device := <-accepted
	defer device.Close()

	if err := c.Send("player", "get_now_playing_media", map[string]string{"pid": "5"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Send("system", "heart_beat", nil); err != nil {
		t.Fatal(err)
	}

	r := bufio.NewReader(device)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "heos://player/get_now_playing_media?pid=5\r\n" {
		t.Errorf("frame = %q", line)
	}
	line, err = r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "heos://system/heart_beat\r\n" {
		t.Errorf("frame = %q", line)
	}
}

func TestConnRemoteClose(t *testing.T) {
	addr, accepted := newTestDevice(t)
	c := mustConnect(t, addr)
	device := <-accepted
	device.Close()

	ev := recvEvent(t, c)
	if ev.Kind != EventClosed {
		t.Fatalf("kind = %v, want closed", ev.Kind)
	}
	if ev.Err == nil {
		t.Error("remote close should carry an error")
	}

	if _, ok := <-c.Events(); ok {
		t.Error("channel still open after EventClosed")
	}
}

func TestConnLocalClose(t *testing.T) {
	addr, accepted := newTestDevice(t)
	c := mustConnect(t, addr)
	device := <-accepted
	defer device.Close()

	c.Close()

	ev := recvEvent(t, c)
	if ev.Kind != EventClosed {
		t.Fatalf("kind = %v, want closed", ev.Kind)
	}
	if ev.Err != nil {
		t.Errorf("local close Err = %v, want nil", ev.Err)
	}
}
