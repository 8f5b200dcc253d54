// Package config loads the publisher configuration once at startup.
//
// Sources, lowest precedence first: built-in defaults, fronius.yaml, a
// .env file in the working directory, then FRONIUS_* environment variables.
package config

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"golang.org/x/net/idna"
)

const (
	envPrefix  = "FRONIUS"
	configName = "fronius"
)

// Config holds all application configuration.
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Poller  PollerConfig  `mapstructure:"poller"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// DeviceConfig describes the Fronius Data Manager.
type DeviceConfig struct {
	Address string        `mapstructure:"address"`
	Timeout time.Duration `mapstructure:"timeout"` // 0 keeps the http.Client default
}

// BrokerConfig describes where records are published.
type BrokerConfig struct {
	Type           string        `mapstructure:"type"`
	Address        string        `mapstructure:"address"`
	Port           int           `mapstructure:"port"`
	Topic          string        `mapstructure:"topic"`
	ClientID       string        `mapstructure:"client_id"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// PollerConfig controls the loop.
type PollerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	PublishPartial bool          `mapstructure:"publish_partial"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the working directory and the standard
// search paths.
func Load() (Config, error) {
	return LoadFrom(".", "./config", "/etc/fronius_publisher")
}

// LoadFrom reads configuration searching dirs for fronius.yaml. The .env
// file is read from the first dir.
func LoadFrom(dirs ...string) (Config, error) {
	if len(dirs) > 0 {
		envFile := filepath.Join(dirs[0], ".env")
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, errors.Wrapf(err, "error loading %s", envFile)
		}
	}

	v := viper.New()
	setDefaults(v)

	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	v.SetConfigName(configName)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "error reading config file")
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unable to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.address", "fronius.home.arpa")
	v.SetDefault("device.timeout", "0s")

	v.SetDefault("broker.type", "mqtt")
	v.SetDefault("broker.address", "nas.home.arpa")
	v.SetDefault("broker.port", 1883)
	v.SetDefault("broker.topic", "test/fronius")
	v.SetDefault("broker.client_id", "fronius_publisher")
	v.SetDefault("broker.connect_timeout", "10s")

	v.SetDefault("poller.interval", "5s")
	v.SetDefault("poller.publish_partial", false)

	v.SetDefault("metrics.address", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if err := validateHost(c.Device.Address); err != nil {
		return errors.Wrap(err, "device.address")
	}

	if c.Device.Timeout < 0 {
		return errors.New("device.timeout must not be negative")
	}

	switch c.Broker.Type {
	case "mqtt", "kafka":
		if err := validateHost(c.Broker.Address); err != nil {
			return errors.Wrap(err, "broker.address")
		}

		if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
			return errors.Errorf("broker.port %d out of range", c.Broker.Port)
		}
	case "stdout":
	default:
		return errors.Errorf("broker.type %q must be one of mqtt, kafka, stdout", c.Broker.Type)
	}

	if c.Broker.Topic == "" {
		return errors.New("broker.topic is required")
	}

	if c.Broker.Type == "mqtt" && strings.ContainsAny(c.Broker.Topic, "+#") {
		return errors.Errorf("broker.topic %q must not contain wildcards", c.Broker.Topic)
	}

	if c.Poller.Interval <= 0 {
		return errors.Errorf("poller.interval must be positive, got %s", c.Poller.Interval)
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "logging.level")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return errors.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}

	return nil
}

// validateHost accepts an IP address or a hostname, optionally with a port.
func validateHost(addr string) error {
	if addr == "" {
		return errors.New("address is required")
	}

	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}

	if net.ParseIP(host) != nil {
		return nil
	}

	if _, err := idna.Lookup.ToASCII(host); err != nil {
		return errors.Wrapf(err, "invalid host %q", host)
	}

	return nil
}
