//go:build no_mqtt

package main

import (
	"log/slog"

	"heos-tracker/internal/listener"
	"heos-tracker/internal/store"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *listener.Manager, _ store.Store, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
