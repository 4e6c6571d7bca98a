// Package discovery finds HEOS devices on the local network via SSDP.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

const (
	ssdpMulticastAddr = "239.255.255.250:1900"
	searchTarget      = "urn:schemas-denon-com:device:ACT-Denon:1"
)

// ErrNoDevices is returned when the search window elapses without a single
// device responding. Not retried here: the operator has to power devices on
// or fix the network.
var ErrNoDevices = errors.New("no devices found")

// Discover sends an SSDP M-SEARCH for HEOS devices and collects responding
// addresses until timeout elapses. onFound is invoked once per unique address
// as it is discovered; it may be nil.
func Discover(ctx context.Context, timeout time.Duration, logger *slog.Logger, onFound func(address string)) ([]string, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("open udp socket: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop if the caller gives up early.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	dst, err := net.ResolveUDPAddr("udp4", ssdpMulticastAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve ssdp address: %w", err)
	}

	mx := int(timeout / time.Second)
	if mx < 1 {
		mx = 1
	}
	request := fmt.Sprintf("M-SEARCH * HTTP/1.1\r\n"+
		"HOST: %s\r\n"+
		"MAN: \"ssdp:discover\"\r\n"+
		"MX: %d\r\n"+
		"ST: %s\r\n\r\n", ssdpMulticastAddr, mx, searchTarget)

	// Send twice; SSDP is UDP and the first datagram is easy to lose.
	for i := 0; i < 2; i++ {
		if _, err := conn.WriteTo([]byte(request), dst); err != nil {
			return nil, fmt.Errorf("send m-search: %w", err)
		}
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	seen := make(map[string]bool)
	var addresses []string
	buf := make([]byte, 2048)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			break // deadline elapsed or socket closed
		}
		if !IsSearchResponse(buf[:n]) {
			continue
		}
		host, _, err := net.SplitHostPort(src.String())
		if err != nil {
			continue
		}
		if seen[host] {
			continue
		}
		seen[host] = true
		addresses = append(addresses, host)
		logger.Info("device discovered", "address", host)
		if onFound != nil {
			onFound(host)
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	logger.Info("discovery finished", "devices", len(addresses))
	if len(addresses) == 0 {
		return nil, ErrNoDevices
	}
	return addresses, nil
}

// IsSearchResponse reports whether a datagram is an SSDP search response for
// the HEOS search target.
func IsSearchResponse(datagram []byte) bool {
	text := string(datagram)
	if !strings.HasPrefix(text, "HTTP/1.1 200 OK") {
		return false
	}
	return strings.Contains(text, searchTarget)
}
