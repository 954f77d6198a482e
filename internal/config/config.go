package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/sensor"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultConfigPath      = "/etc/solo2d.toml"
	DefaultEnvPrefix       = "SOLO2D"
	DefaultMountPoint      = "/media/SoloII"
	DefaultDataFile        = "SoloII.dat"
	DefaultMountTimeout    = 10
	DefaultInterval        = 30
	DefaultTimezone        = "Local"
	DefaultLogLevel        = "info"
	DefaultHTTPListen      = ":7001"
	DefaultHistoryDB       = "/var/lib/solo2d/history.db"
	DefaultRuntimeDir      = "/run/solo2d"
	DefaultTopicPrefix     = "solo2"
	DefaultDiscoveryPrefix = "homeassistant"
)

type SensorConfig struct {
	Name             string `mapstructure:"name"`
	IntegrationCount int    `mapstructure:"integration_count"`
	Type             string `mapstructure:"type"`
	Unit             string `mapstructure:"unit"`
}

type MQTTConfig struct {
	Broker          string `mapstructure:"broker"`
	ClientID        string `mapstructure:"client_id"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

type Config struct {
	MountPoint   string         `mapstructure:"mount_point"`
	DataFile     string         `mapstructure:"data_file"`
	Mount        bool           `mapstructure:"mount"`
	MountTimeout int            `mapstructure:"mount_timeout"`
	Interval     int            `mapstructure:"interval"`
	Timezone     string         `mapstructure:"timezone"`
	LogLevel     string         `mapstructure:"log_level"`
	HTTPListen   string         `mapstructure:"http_listen"`
	History      bool           `mapstructure:"history"`
	HistoryDB    string         `mapstructure:"history_db"`
	RuntimeDir   string         `mapstructure:"runtime_dir"`
	MQTT         MQTTConfig     `mapstructure:"mqtt"`
	Sensors      []SensorConfig `mapstructure:"sensors"`

	// Dump prints the last Dump slots and exits.
	Dump int `mapstructure:"dump"`
}

func defaultSensors() []map[string]any {
	return []map[string]any{
		{"name": "Power", "integration_count": 1, "type": "consumption", "unit": "kW"},
	}
}

// Load reads the configuration from flags, environment, configuration file
// and defaults, in that order of precedence, and validates it.
//
// The configuration file is taken from --config, else from the
// <prefix>_CONFIG environment variable, else DefaultConfigPath. A missing
// default file is not an error; an explicitly named one is.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(o)
	}
	if !o.explicit {
		o.configPath, o.explicit = os.LookupEnv(o.envPrefix + "_CONFIG")
		if !o.explicit {
			o.configPath = DefaultConfigPath
		}
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if f := fs.Lookup("config"); f.Changed {
		o.configPath = f.Value.String()
		o.explicit = true
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindFlags(v, fs); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if err := readConfigFile(v, o.configPath, o.explicit); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("solo2d", pflag.ContinueOnError)

	fs.String("config", DefaultConfigPath, "Configuration file")
	fs.String("mount-point", DefaultMountPoint, "Mount point of the Solo II medium")
	fs.String("data-file", DefaultDataFile, "Record file name on the medium")
	fs.Bool("mount", true, "Mount and unmount the medium around each read")
	fs.Int("mount-timeout", DefaultMountTimeout, "Timeout for mount commands, in seconds")
	fs.Int("interval", DefaultInterval, "Poll interval, in seconds")
	fs.String("timezone", DefaultTimezone, "Time zone the monitor was set up in")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("http-listen", DefaultHTTPListen, "HTTP listen address, empty to disable")
	fs.Bool("history", false, "Record aggregates in the history database")
	fs.String("history-db", DefaultHistoryDB, "History database path")
	fs.String("runtime-dir", DefaultRuntimeDir, "Directory for the PID file")
	fs.String("mqtt-broker", "", "MQTT broker URL, empty to disable")
	fs.Int("dump", 0, "Print the last N slots and exit")

	return fs
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"mount_point":   "mount-point",
		"data_file":     "data-file",
		"mount":         "mount",
		"mount_timeout": "mount-timeout",
		"interval":      "interval",
		"timezone":      "timezone",
		"log_level":     "log-level",
		"http_listen":   "http-listen",
		"history":       "history",
		"history_db":    "history-db",
		"runtime_dir":   "runtime-dir",
		"mqtt.broker":   "mqtt-broker",
		"dump":          "dump",
	}

	for key, name := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return err
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mount_point", DefaultMountPoint)
	v.SetDefault("data_file", DefaultDataFile)
	v.SetDefault("mount", true)
	v.SetDefault("mount_timeout", DefaultMountTimeout)
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("timezone", DefaultTimezone)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("http_listen", DefaultHTTPListen)
	v.SetDefault("history", false)
	v.SetDefault("history_db", DefaultHistoryDB)
	v.SetDefault("runtime_dir", DefaultRuntimeDir)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "solo2d")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", DefaultTopicPrefix)
	v.SetDefault("mqtt.discovery_prefix", DefaultDiscoveryPrefix)
	v.SetDefault("sensors", defaultSensors())
	v.SetDefault("dump", 0)
}

func readConfigFile(v *viper.Viper, path string, explicit bool) error {
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil
		}
		return errors.New().Wrap(errors.ErrReadConfig, err)
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errors.New().Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval < 1 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.MountTimeout < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			fmt.Sprintf("mount_timeout must not be negative, got %d", c.MountTimeout))
	}
	if c.Dump < 0 {
		return errFactory.WithMessage(errors.ErrInvalidArgument,
			fmt.Sprintf("dump must not be negative, got %d", c.Dump))
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errFactory.Wrap(errors.ErrInvalidTimezone, err)
	}
	if len(c.Sensors) == 0 {
		return errFactory.WithMessage(errors.ErrInvalidSensor, "no sensors configured")
	}
	if _, err := c.SensorList(); err != nil {
		return err
	}

	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}

	return loc
}

// MountTimeoutDuration returns MountTimeout as a duration.
func (c *Config) MountTimeoutDuration() time.Duration {
	return time.Duration(c.MountTimeout) * time.Second
}

// IntervalDuration returns Interval as a duration.
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// SensorList builds the configured sensors.
func (c *Config) SensorList() ([]sensor.Sensor, error) {
	sensors := make([]sensor.Sensor, 0, len(c.Sensors))
	for _, sc := range c.Sensors {
		s, err := sensor.New(sc.Name, sc.IntegrationCount, sc.Type, sc.Unit)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, s)
	}

	return sensors, nil
}
