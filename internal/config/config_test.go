/*
NAME
  config_test.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ausocean/utils/logging"
)

const testConfig = `
[cas]
master_key = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

[server]
address = "127.0.0.1:8080"

[[tuners]]
type = "dvb"
adapter_num = 0
frontend_num = 1

[[channels]]
name = "NHK"
delivery_system = "ISDB-S"
frequency = 1318000
stream_id = 2
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chibitv.toml")
	if err := writeFile(path, content); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTestConfig(t, testConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var want CasMasterKey
	for i := range want {
		want[i] = byte(i)
	}
	if cfg.Cas.MasterKey != want {
		t.Errorf("MasterKey = %x, want %x", cfg.Cas.MasterKey, want)
	}
	if cfg.Server.Address != "127.0.0.1:8080" {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, "127.0.0.1:8080")
	}
	if len(cfg.Tuners) != 1 || cfg.Tuners[0].Type != TunerTypeDVB || cfg.Tuners[0].FrontendNum != 1 {
		t.Errorf("Tuners = %+v, unexpected", cfg.Tuners)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0].StreamID != 2 {
		t.Errorf("Channels = %+v, unexpected", cfg.Channels)
	}
}

func TestLoadDefaultsServerAddress(t *testing.T) {
	path := writeTestConfig(t, `
[cas]
master_key = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != DefaultServerConfig.Address {
		t.Errorf("Server.Address = %q, want default %q", cfg.Server.Address, DefaultServerConfig.Address)
	}
}

func TestUnmarshalTextRejectsBadLength(t *testing.T) {
	var k CasMasterKey
	if err := k.UnmarshalText([]byte("aabb")); err == nil {
		t.Fatalf("expected an error for a short key")
	}
}

func TestUnmarshalTextRejectsBadHex(t *testing.T) {
	var k CasMasterKey
	if err := k.UnmarshalText([]byte("not-hex-at-all-not-hex-at-all-not-hex-at-all-xx")); err == nil {
		t.Fatalf("expected an error for invalid hex")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeTestConfig(t, testConfig)

	changes := make(chan *Config, 1)
	stop := make(chan struct{})
	defer close(stop)

	log := logging.New(logging.Info, bytes.NewBuffer(nil), true)
	if err := Watch(path, log, func(c *Config) { changes <- c }, stop); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	updated := testConfig + "\n# touch\n"
	if err := writeFile(path, updated); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-changes:
		if cfg.Server.Address != "127.0.0.1:8080" {
			t.Errorf("reloaded Server.Address = %q, want %q", cfg.Server.Address, "127.0.0.1:8080")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reload")
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
