package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/tcpsession"
)

const defaultPort = 7000

type config struct {
	Port          int
	Host          string
	SendDelay     time.Duration
	ReadChunkSize int
	Log           logger.Config
	WSAddr        string
	RedisAddr     string
	Node          string
}

type fileConfig struct {
	Port          int    `toml:"port"`
	Host          string `toml:"host"`
	SendDelay     string `toml:"send_delay"`
	ReadChunkSize int    `toml:"read_chunk_size"`
	LogEnabled    bool   `toml:"log_enabled"`
	LogPrefix     string `toml:"log_prefix"`
	LogLevel      string `toml:"log_level"`
	LogDir        string `toml:"log_dir"`
	WSAddr        string `toml:"ws_addr"`
	RedisAddr     string `toml:"redis_addr"`
	Node          string `toml:"node"`
}

func defaultConfig() config {
	log := logger.DefaultConfig()
	log.Service = "tcpecho"

	return config{
		Port:          defaultPort,
		ReadChunkSize: tcpsession.DefaultConfig().ReadChunkSize,
		Log:           log,
		Node:          "tcpecho",
	}
}

// loadConfig returns the defaults overridden by the keys present in the file
// at path. An empty path yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load tcpecho config: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("port") {
		if raw.Port < 0 || raw.Port > 65535 {
			return config{}, fmt.Errorf("port %d out of range", raw.Port)
		}
		cfg.Port = raw.Port
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}

	if meta.IsDefined("send_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SendDelay))
		if err != nil {
			return config{}, fmt.Errorf("parse send_delay: %w", err)
		}
		cfg.SendDelay = d
	}

	if meta.IsDefined("read_chunk_size") {
		if raw.ReadChunkSize <= 0 {
			return config{}, fmt.Errorf("read_chunk_size must be positive, got %d", raw.ReadChunkSize)
		}
		cfg.ReadChunkSize = raw.ReadChunkSize
	}

	if meta.IsDefined("log_enabled") {
		cfg.Log.Enabled = raw.LogEnabled
	}

	if meta.IsDefined("log_prefix") {
		cfg.Log.Prefix = raw.LogPrefix
	}

	if meta.IsDefined("log_level") {
		level := strings.TrimSpace(raw.LogLevel)
		if _, err := logger.ParseLevel(level); err != nil {
			return config{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.Log.Level = level
	}

	if meta.IsDefined("log_dir") {
		cfg.Log.Dir = strings.TrimSpace(raw.LogDir)
	}

	if meta.IsDefined("ws_addr") {
		cfg.WSAddr = strings.TrimSpace(raw.WSAddr)
	}

	if meta.IsDefined("redis_addr") {
		cfg.RedisAddr = strings.TrimSpace(raw.RedisAddr)
	}

	if meta.IsDefined("node") {
		if node := strings.TrimSpace(raw.Node); node != "" {
			cfg.Node = node
		}
	}

	return cfg, nil
}
