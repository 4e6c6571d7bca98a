//go:build !no_mqtt

package main

import (
	"log/slog"

	"heos-tracker/internal/listener"
	"heos-tracker/internal/mqtt"
	"heos-tracker/internal/store"
)

type mqttStopper struct {
	publisher *mqtt.Publisher
}

func (m *mqttStopper) Stop() {
	if m.publisher != nil {
		m.publisher.Stop()
	}
}

func initMQTT(mgr *listener.Manager, st store.Store, cfg *Config, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	pub, err := mqtt.NewPublisher(st, mqtt.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, logger)
	if err != nil {
		logger.Error("mqtt publisher", "err", err)
		return &mqttStopper{}
	}
	pub.Start(mgr.Events())
	return &mqttStopper{publisher: pub}
}
