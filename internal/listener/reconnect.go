package listener

import "time"

// scheduleReconnect starts a reconnect loop for an address unless one is
// already in progress. A heartbeat timeout and a transport error for the same
// device can fire within the same interval; the in-progress flag guarantees
// they share a single loop.
func (m *Manager) scheduleReconnect(address string) {
	m.reconnectMu.Lock()
	if m.reconnecting[address] {
		m.reconnectMu.Unlock()
		return
	}
	m.reconnecting[address] = true
	m.reconnectMu.Unlock()

	m.wg.Add(1)
	go m.reconnectLoop(address)
}

// reconnectLoop retries until a session reaches active, the configured
// attempt budget is spent, or the manager shuts down. The first attempt runs
// immediately; each later one waits out the reconnect interval, and that
// sleep is cancelled by shutdown. The in-progress flag is cleared on every
// exit path.
func (m *Manager) reconnectLoop(address string) {
	defer m.wg.Done()
	defer func() {
		m.reconnectMu.Lock()
		delete(m.reconnecting, address)
		m.reconnectMu.Unlock()
	}()

	max := m.config.ReconnectMaxAttempts
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(m.config.ReconnectInterval):
			case <-m.ctx.Done():
				return
			}
		}
		if m.ctx.Err() != nil {
			return
		}

		m.logger.Info("reconnecting", "address", address, "attempt", attempt)
		err := m.Connect(address)
		if err == nil {
			m.logger.Info("reconnected", "address", address, "attempts", attempt)
			return
		}
		m.logger.Warn("reconnect attempt failed", "address", address, "attempt", attempt, "err", err)

		if max > 0 && attempt >= max {
			// Reported once; a device that stays gone needs an operator.
			m.logger.Error("reconnect attempts exhausted, giving up", "address", address, "attempts", max)
			return
		}
	}
}
