/*
NAME
  config.go - loads and watches the TOML configuration file describing the
  CAS master key, HTTP listen address, tuners, and channels.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package config loads the TOML file describing a chibitv instance: its
// CAS master key, HTTP listen address, tuner definitions, and channel
// list, and can watch that file for edits.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"

	"github.com/ausocean/utils/logging"
)

// CasMasterKey is the 32-byte CAS master key, stored hex-encoded in the
// config file.
type CasMasterKey [32]byte

// UnmarshalText decodes a hex-encoded 32-byte master key.
func (k *CasMasterKey) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("config: decode cas master key: %w", err)
	}
	if len(decoded) != len(k) {
		return fmt.Errorf("config: cas master key must be %d bytes, got %d", len(k), len(decoded))
	}
	copy(k[:], decoded)
	return nil
}

// CasConfig holds CAS module settings.
type CasConfig struct {
	MasterKey CasMasterKey `toml:"master_key"`
}

// ServerConfig holds the HTTP server's listen address.
type ServerConfig struct {
	Address string `toml:"address"`
}

// DefaultServerConfig is used when the config file omits [server].
var DefaultServerConfig = ServerConfig{Address: "[::1]:3001"}

// TunerConfig describes one entry of the tuners list. Type selects which
// fields apply: "stdin" uses none, "dvb" uses AdapterNum/FrontendNum.
type TunerConfig struct {
	Type        string `toml:"type"`
	AdapterNum  uint8  `toml:"adapter_num"`
	FrontendNum uint8  `toml:"frontend_num"`
}

const (
	TunerTypeStdin = "stdin"
	TunerTypeDVB   = "dvb"
)

// ChannelConfig describes one entry of the channels list. DeliverySystem
// selects which fields apply; "ISDB-S" is the only delivery system this
// pipeline understands.
type ChannelConfig struct {
	Name           string `toml:"name"`
	DeliverySystem string `toml:"delivery_system"`
	Frequency      uint32 `toml:"frequency"`
	StreamID       uint32 `toml:"stream_id"`
}

const DeliverySystemIsdbS = "ISDB-S"

// Config is the top-level shape of the configuration file.
type Config struct {
	Cas      CasConfig       `toml:"cas"`
	Server   ServerConfig    `toml:"server"`
	Tuners   []TunerConfig   `toml:"tuners"`
	Channels []ChannelConfig `toml:"channels"`
}

// Load reads and parses the TOML file at path, applying the server
// address default when the file omits it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{Server: DefaultServerConfig}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = DefaultServerConfig.Address
	}
	return cfg, nil
}

// Watch reloads the config file at path and invokes onChange with the
// freshly-parsed Config whenever the file is written, until stop is
// closed. A reload failure is logged and the previous config is kept.
func Watch(path string, log logging.Logger, onChange func(*Config), stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Error("config: reload failed", "error", err.Error())
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("config: watcher error", "error", err.Error())
			}
		}
	}()

	return nil
}
