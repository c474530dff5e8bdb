package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/caselightd/internal/light"
	"github.com/dokzlo13/caselightd/internal/wmi"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig       `yaml:"log"`
	Transport       TransportConfig `yaml:"transport"`
	Dispatch        DispatchConfig  `yaml:"dispatch"`
	Light           LightConfig     `yaml:"light"`
	API             APIConfig       `yaml:"api"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	EventBus        EventBusConfig  `yaml:"eventbus"`
	WatchConfig     bool            `yaml:"watch_config"`      // Re-apply the light preset when the file changes
	RestoreOnResume *bool           `yaml:"restore_on_resume"` // Re-send the light after logind reports a resume; default true
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// TransportConfig selects how firmware calls reach the machine
type TransportConfig struct {
	Kind         string   `yaml:"kind"` // auto, devwmi, wmi or simulate
	Device       string   `yaml:"device"`
	SysfsDir     string   `yaml:"sysfs_dir"`
	WMINamespace string   `yaml:"wmi_namespace"`
	WMIClass     string   `yaml:"wmi_class"`
	WMIMethod    string   `yaml:"wmi_method"`
	CallTimeout  Duration `yaml:"call_timeout"` // 0 = no deadline
}

// Options converts the section into transport options.
func (c TransportConfig) Options() wmi.Options {
	return wmi.Options{
		Kind:       c.Kind,
		DevicePath: c.Device,
		SysfsDir:   c.SysfsDir,
		Namespace:  c.WMINamespace,
		Class:      c.WMIClass,
		Method:     c.WMIMethod,
	}
}

// DispatchConfig contains dispatcher settings
type DispatchConfig struct {
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // 0 = unlimited
	DrainTimeout Duration `yaml:"drain_timeout"`  // How long detach may wait for queued writes
}

// LightConfig is the preset applied after attach and on reload
type LightConfig struct {
	Brightness *uint8   `yaml:"brightness"` // nil = leave the light alone
	Zones      []string `yaml:"zones"`      // up to 4 palette names; empty entries are skipped
}

// APIConfig contains HTTP server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns host:port.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MQTTConfig contains Home Assistant bridge settings
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	NodeID          string `yaml:"node_id"`
}

// LedgerConfig contains dispatch ledger settings
type LedgerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Path            string   `yaml:"path"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// Retention returns the retention window.
func (c LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns a configuration with every default applied, as used when
// no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML with ${VAR} expansion, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = wmi.KindAuto
	}
	if cfg.Transport.CallTimeout == 0 {
		cfg.Transport.CallTimeout = Duration(5 * time.Second)
	}

	if cfg.Dispatch.DrainTimeout == 0 {
		cfg.Dispatch.DrainTimeout = Duration(10 * time.Second)
	}

	if cfg.API.Port == 0 {
		cfg.API.Port = 9191
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}

	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "caselightd"
	}
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if cfg.MQTT.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.MQTT.NodeID = host
		} else {
			cfg.MQTT.NodeID = "caselight"
		}
	}

	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "./caselightd.sqlite"
	}
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	if cfg.EventBus.Workers <= 0 {
		cfg.EventBus.Workers = 2
	}
	if cfg.EventBus.QueueSize <= 0 {
		cfg.EventBus.QueueSize = 64
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	if cfg.RestoreOnResume == nil {
		restore := true
		cfg.RestoreOnResume = &restore
	}
}

// Validate checks values that defaults cannot fix.
func (cfg *Config) Validate() error {
	var errs []error

	switch cfg.Transport.Kind {
	case wmi.KindAuto, wmi.KindDevWMI, wmi.KindOLE, wmi.KindSimulate:
	default:
		errs = append(errs, fmt.Errorf("transport.kind: unknown kind %q", cfg.Transport.Kind))
	}

	if cfg.Dispatch.RateLimitRPS < 0 {
		errs = append(errs, errors.New("dispatch.rate_limit_rps: must not be negative"))
	}

	if b := cfg.Light.Brightness; b != nil && *b > light.MaxBrightness {
		errs = append(errs, fmt.Errorf("light.brightness: %d exceeds %d", *b, light.MaxBrightness))
	}
	if len(cfg.Light.Zones) > light.MaxZones {
		errs = append(errs, fmt.Errorf("light.zones: %d entries, at most %d", len(cfg.Light.Zones), light.MaxZones))
	}
	for i, name := range cfg.Light.Zones {
		if name == "" {
			continue
		}
		if _, err := light.ParseColor(name); err != nil {
			errs = append(errs, fmt.Errorf("light.zones[%d]: %w", i, err))
		}
	}

	if cfg.API.Enabled && (cfg.API.Port < 1 || cfg.API.Port > 65535) {
		errs = append(errs, fmt.Errorf("api.port: %d out of range", cfg.API.Port))
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker: required when mqtt is enabled"))
	}

	return errors.Join(errs...)
}

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := strings.TrimSpace(parts[1])
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
