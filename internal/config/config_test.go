package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %q", cfg.Log.Level)
	}
	if cfg.Transport.Kind != "auto" {
		t.Errorf("transport.kind = %q", cfg.Transport.Kind)
	}
	if cfg.Transport.CallTimeout.Duration() != 5*time.Second {
		t.Errorf("transport.call_timeout = %v", cfg.Transport.CallTimeout.Duration())
	}
	if cfg.API.Addr() != "127.0.0.1:9191" {
		t.Errorf("api addr = %q", cfg.API.Addr())
	}
	if cfg.Ledger.Enabled {
		t.Error("ledger enabled by default")
	}
	if cfg.RestoreOnResume == nil || !*cfg.RestoreOnResume {
		t.Error("restore_on_resume should default to true")
	}
	if cfg.Ledger.Retention() != 30*24*time.Hour {
		t.Errorf("ledger retention = %v", cfg.Ledger.Retention())
	}
	if cfg.Light.Brightness != nil {
		t.Errorf("light.brightness = %v, want unset", *cfg.Light.Brightness)
	}
	if cfg.EventBus.Workers != 2 || cfg.EventBus.QueueSize != 64 {
		t.Errorf("eventbus = %+v", cfg.EventBus)
	}
}

func TestParse_Full(t *testing.T) {
	t.Setenv("CASELIGHT_MQTT_PASSWORD", "hunter2")

	cfg, err := Parse([]byte(`
log:
  level: debug
  json: true
transport:
  kind: simulate
  call_timeout: 250ms
dispatch:
  rate_limit_rps: 4
  drain_timeout: 3s
light:
  brightness: 6
  zones: [ruby, "", sapphire, diamond]
api:
  enabled: true
  host: 0.0.0.0
  port: 8088
mqtt:
  enabled: true
  broker: tcp://broker:1883
  password: ${CASELIGHT_MQTT_PASSWORD}
  username: ${CASELIGHT_MQTT_USER:lights}
  node_id: xps
watch_config: true
restore_on_resume: false
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Transport.Kind != "simulate" || cfg.Transport.CallTimeout.Duration() != 250*time.Millisecond {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	if cfg.Dispatch.RateLimitRPS != 4 || cfg.Dispatch.DrainTimeout.Duration() != 3*time.Second {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Light.Brightness == nil || *cfg.Light.Brightness != 6 {
		t.Errorf("light.brightness = %v", cfg.Light.Brightness)
	}
	if len(cfg.Light.Zones) != 4 || cfg.Light.Zones[2] != "sapphire" {
		t.Errorf("light.zones = %v", cfg.Light.Zones)
	}
	if cfg.MQTT.Password != "hunter2" || cfg.MQTT.Username != "lights" {
		t.Errorf("mqtt credentials = %q / %q", cfg.MQTT.Username, cfg.MQTT.Password)
	}
	if cfg.API.Addr() != "0.0.0.0:8088" || !cfg.WatchConfig {
		t.Errorf("api = %+v watch = %v", cfg.API, cfg.WatchConfig)
	}
	if cfg.RestoreOnResume == nil || *cfg.RestoreOnResume {
		t.Error("restore_on_resume = true, want false")
	}
	if opts := cfg.Transport.Options(); opts.Kind != "simulate" {
		t.Errorf("transport options = %+v", opts)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown kind", "transport: {kind: serial}", "transport.kind"},
		{"brightness too high", "light: {brightness: 9}", "light.brightness"},
		{"unknown color", "light: {zones: [ruby, plaid]}", "light.zones[1]"},
		{"too many zones", "light: {zones: [ruby, ruby, ruby, ruby, ruby]}", "light.zones"},
		{"mqtt without broker", "mqtt: {enabled: true}", "mqtt.broker"},
		{"negative rate", "dispatch: {rate_limit_rps: -1}", "rate_limit_rps"},
		{"bad duration", "shutdown_timeout: soon", "invalid duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CASELIGHT_SET", "value")
	tests := []struct {
		in   string
		want string
	}{
		{"${CASELIGHT_SET}", "value"},
		{"${CASELIGHT_UNSET:fallback}", "fallback"},
		{"${CASELIGHT_UNSET}", ""},
		{"plain", "plain"},
		{"a-${CASELIGHT_SET}-b", "a-value-b"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWatcher_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caselightd.yaml")
	if err := os.WriteFile(path, []byte("light: {brightness: 2}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, 20*time.Millisecond, func(c *Config) { reloaded <- c })
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// give the watcher a moment to start reading events
	time.Sleep(50 * time.Millisecond)

	// invalid content is skipped
	if err := os.WriteFile(path, []byte("light: {brightness: 99}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	select {
	case c := <-reloaded:
		t.Fatalf("invalid config delivered: %+v", c)
	default:
	}

	if err := os.WriteFile(path, []byte("light: {brightness: 7}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-reloaded:
		if c.Light.Brightness == nil || *c.Light.Brightness != 7 {
			t.Errorf("reloaded brightness = %v", c.Light.Brightness)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config not reloaded")
	}
}
