// Package config provides the configuration of the scale logger, read from a YAML
// file and optionally overridden via (.env) environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix denotes the prefix of all environment variable overrides
const EnvPrefix = "ESF37_"

// Supported transports
const (
	TransportHCI   = "hci"
	TransportBlueZ = "bluez"
	TransportMock  = "mock"
)

// Config holds all application configuration
type Config struct {
	DeviceName          string        `yaml:"device_name"`
	ScanWindow          time.Duration `yaml:"scan_window"`
	NotificationTimeout time.Duration `yaml:"notification_timeout"`
	CoolOff             time.Duration `yaml:"cool_off"`

	LogAdvertisements bool `yaml:"log_advertisements"`
	LogNotifications  bool `yaml:"log_notifications"`
	EnumerateServices bool `yaml:"enumerate_services"`

	Transport    string `yaml:"transport"` // "hci", "bluez" or "mock"
	HCIDevice    int    `yaml:"hci_device"`
	BlueZAdapter string `yaml:"bluez_adapter"`

	Log     LogConfig     `yaml:"log"`
	Sinks   SinksConfig   `yaml:"sinks"`
	API     APIConfig     `yaml:"api"`
	Service ServiceConfig `yaml:"service"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // rotated, empty to log to stderr only
}

// SinksConfig holds the settings of all measurement sinks, a sink is enabled
// if its path / URL is non-empty
type SinksConfig struct {
	CSV    CSVConfig    `yaml:"csv"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Influx InfluxConfig `yaml:"influx"`
}

// CSVConfig holds CSV sink settings
type CSVConfig struct {
	Path string `yaml:"path"`
}

// SQLiteConfig holds SQLite sink settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig holds MQTT sink settings
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// InfluxConfig holds InfluxDB sink settings
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// APIConfig holds status API settings
type APIConfig struct {
	Listen string `yaml:"listen"` // empty to disable
}

// ServiceConfig holds the settings of the installed system service
type ServiceConfig struct {
	Name       string `yaml:"name"`
	User       string `yaml:"user"`
	WorkingDir string `yaml:"working_dir"`
}

// Default returns a Config with the default values
func Default() *Config {
	return &Config{
		DeviceName:          "Etekcity Fitness Scale",
		ScanWindow:          60 * time.Second,
		NotificationTimeout: 27500 * time.Millisecond,
		CoolOff:             10 * time.Second,
		EnumerateServices:   true,
		Transport:           TransportHCI,
		HCIDevice:           -1,
		BlueZAdapter:        "hci0",
		Log: LogConfig{
			Level: "info",
		},
		Sinks: SinksConfig{
			CSV: CSVConfig{
				Path: "/mnt/data/etekcity_scale/measurements.csv",
			},
			MQTT: MQTTConfig{
				ClientID: "esf37",
				Topic:    "esf37/weight",
				QoS:      1,
			},
		},
		Service: ServiceConfig{
			Name:       "Etekcity Scale BLE Sniffer",
			User:       "pi",
			WorkingDir: "/opt/esf37",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with defaults,
// an empty path yields the default configuration
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv loads the provided .env files (or ./.env, if present) and applies all
// ESF37_* environment variables on top of the configuration
func (c *Config) ApplyEnv(envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		return fmt.Errorf("loading env files: %w", err)
	}

	var errs []error
	c.DeviceName = getEnv("DEVICE_NAME", c.DeviceName)
	c.ScanWindow = getEnvAsDuration("SCAN_WINDOW", c.ScanWindow, &errs)
	c.NotificationTimeout = getEnvAsDuration("NOTIFICATION_TIMEOUT", c.NotificationTimeout, &errs)
	c.CoolOff = getEnvAsDuration("COOL_OFF", c.CoolOff, &errs)
	c.LogAdvertisements = getEnvAsBool("LOG_ADVERTISEMENTS", c.LogAdvertisements, &errs)
	c.LogNotifications = getEnvAsBool("LOG_NOTIFICATIONS", c.LogNotifications, &errs)
	c.EnumerateServices = getEnvAsBool("ENUMERATE_SERVICES", c.EnumerateServices, &errs)

	c.Transport = getEnv("TRANSPORT", c.Transport)
	c.HCIDevice = getEnvAsInt("HCI_DEVICE", c.HCIDevice, &errs)
	c.BlueZAdapter = getEnv("BLUEZ_ADAPTER", c.BlueZAdapter)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)

	c.Sinks.CSV.Path = getEnv("CSV_PATH", c.Sinks.CSV.Path)
	c.Sinks.SQLite.Path = getEnv("SQLITE_PATH", c.Sinks.SQLite.Path)
	c.Sinks.MQTT.Broker = getEnv("MQTT_BROKER", c.Sinks.MQTT.Broker)
	c.Sinks.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.Sinks.MQTT.ClientID)
	c.Sinks.MQTT.Topic = getEnv("MQTT_TOPIC", c.Sinks.MQTT.Topic)
	c.Sinks.MQTT.QoS = getEnvAsQoS("MQTT_QOS", c.Sinks.MQTT.QoS, &errs)
	c.Sinks.Influx.URL = getEnv("INFLUX_URL", c.Sinks.Influx.URL)
	c.Sinks.Influx.Token = getEnv("INFLUX_TOKEN", c.Sinks.Influx.Token)
	c.Sinks.Influx.Org = getEnv("INFLUX_ORG", c.Sinks.Influx.Org)
	c.Sinks.Influx.Bucket = getEnv("INFLUX_BUCKET", c.Sinks.Influx.Bucket)

	c.API.Listen = getEnv("API_LISTEN", c.API.Listen)

	return errors.Join(errs...)
}

// Validate checks the config for invalid values
func (c *Config) Validate() error {
	if c.DeviceName == "" {
		return fmt.Errorf("device_name must not be empty")
	}
	if c.ScanWindow <= 0 {
		return fmt.Errorf("scan_window must be > 0")
	}
	if c.NotificationTimeout <= 0 {
		return fmt.Errorf("notification_timeout must be > 0")
	}
	if c.CoolOff < 0 {
		return fmt.Errorf("cool_off must be >= 0")
	}

	switch c.Transport {
	case TransportHCI, TransportBlueZ, TransportMock:
	default:
		return fmt.Errorf("transport must be %q, %q or %q, got %q", TransportHCI, TransportBlueZ, TransportMock, c.Transport)
	}
	if c.HCIDevice < -1 {
		return fmt.Errorf("hci_device must be >= -1 (-1 selects the first available device)")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}

	if c.Sinks.MQTT.Broker != "" {
		if c.Sinks.MQTT.Topic == "" {
			return fmt.Errorf("sinks.mqtt.topic must not be empty")
		}
		if c.Sinks.MQTT.QoS > 2 {
			return fmt.Errorf("sinks.mqtt.qos must be 0, 1 or 2, got %d", c.Sinks.MQTT.QoS)
		}
	}
	if c.Sinks.Influx.URL != "" && (c.Sinks.Influx.Org == "" || c.Sinks.Influx.Bucket == "") {
		return fmt.Errorf("sinks.influx.org and sinks.influx.bucket must not be empty")
	}
	if !c.Sinks.Enabled() {
		return fmt.Errorf("at least one sink must be configured")
	}

	return nil
}

// Debug returns if debug logging is enabled
func (c *Config) Debug() bool {
	return c.Log.Level == "debug"
}

// Enabled returns if at least one sink is configured
func (s SinksConfig) Enabled() bool {
	return s.CSV.Path != "" || s.SQLite.Path != "" || s.MQTT.Broker != "" || s.Influx.URL != ""
}

////////////////////////////////////////////////////////////////////////////////

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(EnvPrefix + key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int, errs *[]error) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, err))
		return fallback
	}
	return value
}

func getEnvAsQoS(key string, fallback byte, errs *[]error) byte {
	value := getEnvAsInt(key, int(fallback), errs)
	if value < 0 || value > 2 {
		*errs = append(*errs, fmt.Errorf("invalid value for %s%s: %d is not a valid QoS level", EnvPrefix, key, value))
		return fallback
	}
	return byte(value)
}

func getEnvAsBool(key string, fallback bool, errs *[]error) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, err))
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, err))
		return fallback
	}
	return value
}
