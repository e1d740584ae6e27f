package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"avaneesh/seriallink-go/pkg/link"
	"avaneesh/seriallink-go/pkg/seriallink"
)

const envLogLevel = "LINKCTL_LOG_LEVEL"

type fileConfig struct {
	Network         string   `toml:"network"`
	Address         string   `toml:"address"`
	BaudRate        int      `toml:"baud_rate"`
	Server          bool     `toml:"server"`
	Role            string   `toml:"role"`
	Timeout         string   `toml:"timeout"`
	Retransmissions int      `toml:"retransmissions"`
	MaxPayload      int      `toml:"max_payload"`
	ReconnectDelay  string   `toml:"reconnect_delay"`
	LogLevel        string   `toml:"log_level"`
	FrameDebug      bool     `toml:"frame_debug"`
	ShowStatistics  bool     `toml:"show_statistics"`
	MetricsListen   string   `toml:"metrics_listen"`
	CORSOrigins     []string `toml:"cors_origins"`
}

type linkctlConfig struct {
	Options        seriallink.Options
	LogLevel       seriallink.LogLevel
	FrameDebug     bool
	ShowStatistics bool
	MetricsListen  string
	CORSOrigins    []string

	RoleFromFile bool // role set by the config file, tx/rx argument optional
}

func defaultConfig() linkctlConfig {
	return linkctlConfig{
		Options: seriallink.Options{
			Network:  seriallink.NetworkSerial,
			Address:  "/dev/ttyS0",
			BaudRate: 38400,
			Link:     link.DefaultConfig(),
		},
		LogLevel:       seriallink.LevelInfo,
		ShowStatistics: true,
	}
}

func loadConfig(path string) (linkctlConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		var raw fileConfig
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return linkctlConfig{}, fmt.Errorf("load linkctl config: %w", err)
		}
		if err := applyFileConfig(&cfg, raw, meta); err != nil {
			return linkctlConfig{}, err
		}
	}

	if v, ok := os.LookupEnv(envLogLevel); ok {
		level, err := seriallink.ParseLogLevel(v)
		if err != nil {
			return linkctlConfig{}, fmt.Errorf("parse %s: %w", envLogLevel, err)
		}
		cfg.LogLevel = level
	}

	if err := cfg.Options.Link.Validate(); err != nil {
		return linkctlConfig{}, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *linkctlConfig, raw fileConfig, meta toml.MetaData) error {
	if meta.IsDefined("network") {
		cfg.Options.Network = seriallink.Network(strings.ToLower(strings.TrimSpace(raw.Network)))
	}
	if meta.IsDefined("address") {
		cfg.Options.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("baud_rate") {
		cfg.Options.BaudRate = raw.BaudRate
	}
	if meta.IsDefined("server") {
		cfg.Options.IsServer = raw.Server
	}

	if meta.IsDefined("role") {
		role, err := parseRole(raw.Role)
		if err != nil {
			return err
		}
		cfg.Options.Link.Role = role
		cfg.RoleFromFile = true
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Options.Link.Timeout = d
	}
	if meta.IsDefined("retransmissions") {
		cfg.Options.Link.MaxRetransmissions = raw.Retransmissions
	}
	if meta.IsDefined("max_payload") {
		cfg.Options.Link.MaxPayloadSize = raw.MaxPayload
	}
	if meta.IsDefined("reconnect_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReconnectDelay))
		if err != nil {
			return fmt.Errorf("parse reconnect_delay: %w", err)
		}
		cfg.Options.ReconnectDelay = d
	}

	if meta.IsDefined("log_level") {
		level, err := seriallink.ParseLogLevel(raw.LogLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = level
	}
	if meta.IsDefined("frame_debug") {
		cfg.FrameDebug = raw.FrameDebug
	}
	if meta.IsDefined("show_statistics") {
		cfg.ShowStatistics = raw.ShowStatistics
	}
	if meta.IsDefined("metrics_listen") {
		cfg.MetricsListen = strings.TrimSpace(raw.MetricsListen)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}
	return nil
}

func parseRole(s string) (link.Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tx", "transmitter":
		return link.RoleTransmitter, nil
	case "rx", "receiver":
		return link.RoleReceiver, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
