// Package config loads the bridge configuration from flags, the environment
// and an optional YAML file.
//
// Precedence, highest first: explicitly set flags, ANT_BRIDGE_* environment
// variables, the config file, flag defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

const (
	DriverSim = "sim"
	DriverBLE = "ble"

	envPrefix = "ANT_BRIDGE"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Driver     string        `mapstructure:"driver"`
	NetworkKey string        `mapstructure:"network_key"`
	Scan       ScanConfig    `mapstructure:"scan"`
	HTTP       HTTPConfig    `mapstructure:"http"`
	Control    ControlConfig `mapstructure:"control"`
	Log        LogConfig     `mapstructure:"log"`
	MQTT       MQTTConfig    `mapstructure:"mqtt"`
	Sim        SimConfig     `mapstructure:"sim"`
	TUI        bool          `mapstructure:"tui"`
}

type ScanConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPConfig configures the API listener. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type ControlConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
	// Timeout bounds the wait for a trainer's control point response (BLE).
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Stderr     bool   `mapstructure:"stderr"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

type SimConfig struct {
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval"`
}

// option ties a config key to its command line flag.
type option struct {
	key  string
	flag string
}

var options = []option{
	{"driver", "driver"},
	{"network_key", "network-key"},
	{"scan.timeout", "scan-timeout"},
	{"http.addr", "http-addr"},
	{"control.attempts", "control-attempts"},
	{"control.backoff", "control-backoff"},
	{"control.timeout", "control-timeout"},
	{"log.file", "log-file"},
	{"log.max_size", "log-max-size"},
	{"log.max_backups", "log-max-backups"},
	{"log.max_age", "log-max-age"},
	{"log.compress", "log-compress"},
	{"log.stderr", "log-stderr"},
	{"mqtt.enabled", "mqtt"},
	{"mqtt.broker", "mqtt-broker"},
	{"mqtt.client_id", "mqtt-client-id"},
	{"mqtt.topic_prefix", "mqtt-topic-prefix"},
	{"mqtt.qos", "mqtt-qos"},
	{"sim.broadcast_interval", "sim-interval"},
	{"tui", "tui"},
}

// NewFlagSet declares every flag with its default value.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to a YAML config file")
	fs.String("driver", DriverSim, "radio driver: sim or ble")
	fs.String("network-key", "", "ANT+ network key as 16 hex characters (default: public ANT+ key)")
	fs.Duration("scan-timeout", 5*time.Second, "default scan duration")
	fs.String("http-addr", ":8080", "HTTP API listen address, empty to disable")
	fs.Int("control-attempts", 3, "target power send attempts")
	fs.Duration("control-backoff", 400*time.Millisecond, "backoff unit between target power attempts")
	fs.Duration("control-timeout", 2*time.Second, "trainer control point response timeout")
	fs.String("log-file", "ant-bridge.log", "log file path")
	fs.Int("log-max-size", 10, "log file size in megabytes before rotation")
	fs.Int("log-max-backups", 3, "rotated log files to keep")
	fs.Int("log-max-age", 28, "days to keep rotated log files")
	fs.Bool("log-compress", false, "gzip rotated log files")
	fs.Bool("log-stderr", true, "also log to stderr")
	fs.Bool("mqtt", false, "publish readings to MQTT")
	fs.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	fs.String("mqtt-client-id", "ant-bridge", "MQTT client id")
	fs.String("mqtt-topic-prefix", "antbridge", "MQTT topic prefix")
	fs.Int("mqtt-qos", 0, "MQTT publish QoS")
	fs.Duration("sim-interval", 250*time.Millisecond, "simulated broadcast period")
	fs.Bool("tui", false, "run the terminal monitor")
	return fs
}

// Load parses args and returns the merged, validated configuration.
// pflag.ErrHelp is returned unchanged when help was requested.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("ant-bridge")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return FromFlags(fs)
}

// FromFlags merges an already parsed flag set with the environment and the
// config file named by --config.
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for _, o := range options {
		if err := v.BindPFlag(o.key, fs.Lookup(o.flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", o.flag, err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSim, DriverBLE:
	default:
		return fmt.Errorf("%w: driver must be %q or %q, got %q", ErrInvalid, DriverSim, DriverBLE, c.Driver)
	}
	if _, err := c.ANTNetworkKey(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("%w: scan.timeout must be > 0", ErrInvalid)
	}
	if c.Control.Attempts < 1 {
		return fmt.Errorf("%w: control.attempts must be >= 1, got %d", ErrInvalid, c.Control.Attempts)
	}
	if c.Control.Backoff < 0 {
		return fmt.Errorf("%w: control.backoff must not be negative", ErrInvalid)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2, got %d", ErrInvalid, c.MQTT.QoS)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt.broker is required when mqtt is enabled", ErrInvalid)
	}
	if c.Sim.BroadcastInterval < 0 {
		return fmt.Errorf("%w: sim.broadcast_interval must not be negative", ErrInvalid)
	}
	return nil
}

// ANTNetworkKey returns the configured key, or the public ANT+ key when
// none is set.
func (c *Config) ANTNetworkKey() (radio.NetworkKey, error) {
	if c.NetworkKey == "" {
		return radio.ANTPlusNetworkKey, nil
	}
	return radio.ParseNetworkKey(c.NetworkKey)
}
