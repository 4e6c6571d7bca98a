package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"heos-tracker/internal/discovery"
	"heos-tracker/internal/listener"
	"heos-tracker/internal/store"
	"heos-tracker/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Discovery struct {
		TimeoutMS int `yaml:"timeout_ms"`
	} `yaml:"discovery"`
	Heartbeat struct {
		IntervalMS int `yaml:"interval_ms"`
	} `yaml:"heartbeat"`
	Reconnect struct {
		IntervalMS  int `yaml:"interval_ms"`
		MaxAttempts int `yaml:"max_attempts"` // 0 = retry forever
	} `yaml:"reconnect"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.Discovery.TimeoutMS <= 0 {
		return fmt.Errorf("discovery.timeout_ms must be positive, got %d", c.Discovery.TimeoutMS)
	}
	if c.Heartbeat.IntervalMS <= 0 {
		return fmt.Errorf("heartbeat.interval_ms must be positive, got %d", c.Heartbeat.IntervalMS)
	}
	if c.Reconnect.IntervalMS <= 0 {
		return fmt.Errorf("reconnect.interval_ms must be positive, got %d", c.Reconnect.IntervalMS)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative, got %d", c.Reconnect.MaxAttempts)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := pflag.StringP("config", "c", "config.yaml", "path to the config file")
	pflag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// Create configured logger.
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("heos-tracker starting", "version", version)

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Create listener manager
	events := listener.NewEventBus(logger)
	mgr := listener.New(db, events, listener.Config{
		DiscoveryTimeout:     time.Duration(cfg.Discovery.TimeoutMS) * time.Millisecond,
		HeartbeatInterval:    time.Duration(cfg.Heartbeat.IntervalMS) * time.Millisecond,
		ReconnectInterval:    time.Duration(cfg.Reconnect.IntervalMS) * time.Millisecond,
		ReconnectMaxAttempts: cfg.Reconnect.MaxAttempts,
	}, logger)

	// Discover devices and start sessions. Finding none at all is fatal:
	// there is nothing to track and nothing to reconnect to.
	ctx, cancel := context.WithCancel(context.Background())
	if err := mgr.DiscoverAndConnect(ctx); err != nil {
		cancel()
		if errors.Is(err, discovery.ErrNoDevices) {
			logger.Error("no devices found on the network")
		} else {
			logger.Error("discovery", "err", err)
		}
		mgr.Stop()
		db.Close()
		os.Exit(1)
	}
	cancel()

	// Start web server
	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))

	webServer := web.NewServer(mgr, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT publisher (no-op when built with no_mqtt tag).
	mqtt := initMQTT(mgr, db, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	mgr.Stop()

	logger.Info("goodbye")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Discovery.TimeoutMS == 0 {
		cfg.Discovery.TimeoutMS = 10000
	}
	if cfg.Heartbeat.IntervalMS == 0 {
		cfg.Heartbeat.IntervalMS = 10000
	}
	if cfg.Reconnect.IntervalMS == 0 {
		cfg.Reconnect.IntervalMS = 30000
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "heos-tracker.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "heos"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
