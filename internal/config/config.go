// Package config loads TOML-backed defaults for relay.Session and
// relay.Server, grounded on edgectl's ghostctl config loader: a plain
// struct, toml.DecodeFile, and meta.IsDefined checks so a partial file only
// overrides the fields it actually sets.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// SessionConfig sources the defaults relay.NewSession otherwise hardcodes.
type SessionConfig struct {
	RequestTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	MaxFramePayload   int64
}

// ServerConfig sources the defaults relay.NewServer otherwise hardcodes.
type ServerConfig struct {
	ListenAddr      string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxFramePayload int64
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		RequestTimeout:    60 * time.Second,
		ReconnectAttempts: 10,
		ReconnectDelay:    5 * time.Second,
		MaxFramePayload:   5_000_000,
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      ":7890",
		RequestTimeout:  60 * time.Second,
		ShutdownTimeout: 0,
		MaxFramePayload: 5_000_000,
	}
}

type rawSessionConfig struct {
	RequestTimeout    string `toml:"request_timeout"`
	ReconnectAttempts int    `toml:"reconnect_attempts"`
	ReconnectDelay    string `toml:"reconnect_delay"`
	MaxFramePayload   int64  `toml:"max_frame_payload"`
}

type rawServerConfig struct {
	ListenAddr      string `toml:"listen_addr"`
	RequestTimeout  string `toml:"request_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	MaxFramePayload int64  `toml:"max_frame_payload"`
}

// LoadSessionConfig reads path and applies only the fields it defines on
// top of DefaultSessionConfig.
func LoadSessionConfig(path string) (SessionConfig, error) {
	cfg := DefaultSessionConfig()

	var raw rawSessionConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return SessionConfig{}, fmt.Errorf("load session config: %w", err)
	}

	if meta.IsDefined("request_timeout") {
		d, err := time.ParseDuration(raw.RequestTimeout)
		if err != nil {
			return SessionConfig{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if meta.IsDefined("reconnect_attempts") {
		cfg.ReconnectAttempts = raw.ReconnectAttempts
	}
	if meta.IsDefined("reconnect_delay") {
		d, err := time.ParseDuration(raw.ReconnectDelay)
		if err != nil {
			return SessionConfig{}, fmt.Errorf("parse reconnect_delay: %w", err)
		}
		cfg.ReconnectDelay = d
	}
	if meta.IsDefined("max_frame_payload") {
		cfg.MaxFramePayload = raw.MaxFramePayload
	}

	return cfg, validateSessionConfig(cfg)
}

// LoadServerConfig reads path and applies only the fields it defines on top
// of DefaultServerConfig.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw rawServerConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = raw.ListenAddr
	}
	if meta.IsDefined("request_timeout") {
		d, err := time.ParseDuration(raw.RequestTimeout)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if meta.IsDefined("shutdown_timeout") {
		d, err := time.ParseDuration(raw.ShutdownTimeout)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	if meta.IsDefined("max_frame_payload") {
		cfg.MaxFramePayload = raw.MaxFramePayload
	}

	return cfg, validateServerConfig(cfg)
}

func validateSessionConfig(cfg SessionConfig) error {
	if cfg.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect_attempts must not be negative")
	}
	if cfg.MaxFramePayload <= 0 || cfg.MaxFramePayload > 5_000_000 {
		return fmt.Errorf("max_frame_payload must be in (0, 5000000]")
	}
	return nil
}

func validateServerConfig(cfg ServerConfig) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if cfg.MaxFramePayload <= 0 || cfg.MaxFramePayload > 5_000_000 {
		return fmt.Errorf("max_frame_payload must be in (0, 5000000]")
	}
	return nil
}
