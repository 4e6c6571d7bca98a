//go:build !no_mqtt

// Package mqtt publishes track and session activity to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"heos-tracker/internal/listener"
	"heos-tracker/internal/store"
)

// Config holds MQTT publisher configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Publisher mirrors listener events onto MQTT topics:
//
//	<prefix>/players/<pid>/now_playing  - retained, on track start
//	<prefix>/players/<pid>/scrobble     - on track finalization
//	<prefix>/bridge/sessions/<address>  - retained, session lifecycle state
//	<prefix>/bridge/state               - retained online/offline, LWT backed
//
// Per-player submission flags gate the two player topics; a player with
// submission disabled is never published.
type Publisher struct {
	client pahomqtt.Client
	store  store.Store
	prefix string
	logger *slog.Logger
	unsub  func()
}

// NewPublisher creates and connects an MQTT publisher.
func NewPublisher(st store.Store, cfg Config, logger *slog.Logger) (*Publisher, error) {
	p := &Publisher{
		store:  st,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("heos-tracker").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.logger.Info("MQTT connected")
			p.publishBridgeState("online")
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	p.client = client
	return p, nil
}

// Start subscribes to listener events and begins publishing.
func (p *Publisher) Start(events *listener.EventBus) {
	p.unsub = events.OnAll(p.handleEvent)
	p.logger.Info("MQTT publisher started", "prefix", p.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (p *Publisher) Stop() {
	if p.unsub != nil {
		p.unsub()
	}
	p.publishBridgeState("offline")
	p.client.Disconnect(1000)
	p.logger.Info("MQTT publisher stopped")
}

func (p *Publisher) handleEvent(event listener.Event) {
	switch event.Type {
	case listener.EventTrackStarted:
		p.handleTrackStarted(event)
	case listener.EventTrackFinalized:
		p.handleTrackFinalized(event)
	case listener.EventSessionState:
		p.handleSessionState(event)
	}
}

func (p *Publisher) handleTrackStarted(event listener.Event) {
	tr, ok := event.Data.(*store.Track)
	if !ok || !tr.Submit.NowPlaying {
		return
	}
	topic := p.prefix + "/players/" + tr.Player + "/now_playing"
	if err := p.publishWait(topic, buildNowPlayingPayload(tr), true); err != nil {
		p.logger.Warn("now-playing publish failed", "topic", topic, "err", err)
		return
	}
	p.markSubmitted(tr.ID, func(st *store.SubmitFlags) { st.NowPlaying = true })
}

func (p *Publisher) handleTrackFinalized(event listener.Event) {
	tr, ok := event.Data.(*store.Track)
	if !ok || !tr.Submit.Track {
		return
	}
	topic := p.prefix + "/players/" + tr.Player + "/scrobble"
	if err := p.publishWait(topic, buildScrobblePayload(tr), false); err != nil {
		p.logger.Warn("scrobble publish failed", "topic", topic, "err", err)
		return
	}
	p.markSubmitted(tr.ID, func(st *store.SubmitFlags) { st.Track = true })
}

func (p *Publisher) handleSessionState(event listener.Event) {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return
	}
	address, _ := data["address"].(string)
	state, _ := data["state"].(string)
	if address == "" || state == "" {
		return
	}
	topic := p.prefix + "/bridge/sessions/" + address
	p.publish(topic, []byte(state), true)
}

// markSubmitted records a successful submission on the track's status flags.
func (p *Publisher) markSubmitted(id uint64, set func(st *store.SubmitFlags)) {
	err := p.store.UpdateTrack(id, func(tr *store.Track) error {
		set(&tr.SubmitStatus)
		return nil
	})
	if err != nil {
		p.logger.Error("record submit status", "track", id, "err", err)
	}
}

func (p *Publisher) publishBridgeState(state string) {
	p.publish(p.prefix+"/bridge/state", []byte(state), true)
}

func (p *Publisher) publish(topic string, payload []byte, retained bool) {
	token := p.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			p.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			p.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func (p *Publisher) publishWait(topic string, payload []byte, retained bool) error {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

func buildNowPlayingPayload(tr *store.Track) []byte {
	return mustJSON(map[string]any{
		"title":      tr.Title,
		"artist":     tr.Artist,
		"album":      tr.Album,
		"image_url":  tr.ImageURL,
		"started_at": tr.StartedAt,
	})
}

func buildScrobblePayload(tr *store.Track) []byte {
	return mustJSON(map[string]any{
		"title":       tr.Title,
		"artist":      tr.Artist,
		"album":       tr.Album,
		"started_at":  tr.StartedAt,
		"finished_at": tr.FinishedAt,
		"duration":    tr.Duration,
	})
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
