package config

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/vanmon/decoder"
)

// Config represents the vanmon configuration
type Config struct {
	BLE           BLEConfig           `yaml:"ble"`
	Fridge        FridgeConfig        `yaml:"fridge"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Prometheus    PrometheusConfig    `yaml:"prometheus"`
	Logging       LoggingConfig       `yaml:"logging"`
	OpenTelemetry OpenTelemetryConfig `yaml:"openTelemetry"`
	Profiling     ProfilingConfig     `yaml:"profiling"`
}

// BLEConfig contains scanning and device configuration
type BLEConfig struct {
	ScanIntervalMillis int            `yaml:"scanIntervalMillis" env:"BLE_SCAN_INTERVAL_MS" env-default:"3000"`
	ScanWindowMillis   int            `yaml:"scanWindowMillis" env:"BLE_SCAN_WINDOW_MS" env-default:"400"`
	MinRSSI            int            `yaml:"minRSSI" env:"BLE_MIN_RSSI" env-default:"-85"`
	EventQueueSize     int            `yaml:"eventQueueSize" env:"BLE_EVENT_QUEUE_SIZE" env-default:"256"`
	CommandQueueSize   int            `yaml:"commandQueueSize" env:"BLE_COMMAND_QUEUE_SIZE" env-default:"32"`
	Devices            []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one registered peripheral
type DeviceConfig struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	MACAddress string `yaml:"macAddress"`
	Key        string `yaml:"key"`
}

// FridgeConfig controls the fridge GATT session
type FridgeConfig struct {
	// cleanenv fills defaults over zero values, so reconnecting is the
	// zero value and the YAML switch is the opt-out
	DisableAutoReconnect bool `yaml:"disableAutoReconnect" env:"FRIDGE_DISABLE_AUTO_RECONNECT"`
	QueryIntervalSeconds int  `yaml:"queryIntervalSeconds" env:"FRIDGE_QUERY_INTERVAL_SECONDS" env-default:"30"`
}

// MQTTConfig contains change publication configuration
type MQTTConfig struct {
	Enabled               bool   `yaml:"enabled" env:"MQTT_ENABLED" env-default:"false"`
	Broker                string `yaml:"broker" env:"MQTT_BROKER"`
	ClientID              string `yaml:"clientId" env:"MQTT_CLIENT_ID" env-default:"vanmon"`
	Username              string `yaml:"username" env:"MQTT_USERNAME"`
	Password              string `yaml:"password" env:"MQTT_PASSWORD"`
	TopicPrefix           string `yaml:"topicPrefix" env:"MQTT_TOPIC_PREFIX" env-default:"vanmon"`
	// string so that an explicit qos: 0 survives the default
	QoS                   string `yaml:"qos" env:"MQTT_QOS" env-default:"1"`
	ConnectTimeoutSeconds int    `yaml:"connectTimeoutSeconds" env:"MQTT_CONNECT_TIMEOUT_SECONDS" env-default:"10"`
}

// PrometheusConfig contains Prometheus remote_write configuration
type PrometheusConfig struct {
	Enabled             bool   `yaml:"enabled" env:"PROMETHEUS_ENABLED" env-default:"false"`
	PushIntervalSeconds int    `yaml:"pushIntervalSeconds" env:"PUSH_INTERVAL_SECONDS" env-default:"15"`
	URL                 string `yaml:"prometheusUrl" env:"PROMETHEUS_URL"`
	Username            string `yaml:"prometheusUsername" env:"PROMETHEUS_USERNAME"`
	Password            string `yaml:"prometheusPassword" env:"PROMETHEUS_PASSWORD"`
	StartAtEvenSecond   bool   `yaml:"startAtEvenSecond" env:"START_AT_EVEN_SECOND" env-default:"true"`
	BufferSize          int    `yaml:"bufferSize" env:"BUFFER_SIZE" env-default:"1000"`
	BatchSize           int    `yaml:"batchSize" env:"BATCH_SIZE" env-default:"500"`
}

var macAddressRegex = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// Load loads configuration from a YAML file with environment variable overrides
func Load(configPath string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateDevices(); err != nil {
		return err
	}

	if c.BLE.ScanIntervalMillis < 1 {
		return fmt.Errorf("scan interval must be at least 1ms")
	}
	if c.BLE.ScanWindowMillis < 1 || c.BLE.ScanWindowMillis > c.BLE.ScanIntervalMillis {
		return fmt.Errorf("scan window must be between 1ms and the scan interval, got %dms", c.BLE.ScanWindowMillis)
	}
	if c.BLE.MinRSSI > 0 || c.BLE.MinRSSI < -127 {
		return fmt.Errorf("min RSSI must be between -127 and 0, got %d", c.BLE.MinRSSI)
	}
	if c.BLE.EventQueueSize < 1 || c.BLE.CommandQueueSize < 1 {
		return fmt.Errorf("queue sizes must be at least 1")
	}

	if c.Fridge.QueryIntervalSeconds < 1 {
		return fmt.Errorf("fridge query interval must be at least 1 second")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker is required when mqtt is enabled")
		}
		if _, err := c.MQTT.QoSLevel(); err != nil {
			return err
		}
		if c.MQTT.TopicPrefix == "" {
			return fmt.Errorf("mqtt topic prefix is required when mqtt is enabled")
		}
	}

	if c.Prometheus.Enabled {
		if c.Prometheus.URL == "" {
			return fmt.Errorf("prometheus URL is required when prometheus is enabled")
		}
		if c.Prometheus.PushIntervalSeconds < 1 {
			return fmt.Errorf("push interval must be at least 1 second")
		}
		if c.Prometheus.BatchSize < 1 {
			return fmt.Errorf("batch size must be at least 1")
		}
	}
	if c.Prometheus.BufferSize < 1 {
		return fmt.Errorf("buffer size must be at least 1")
	}

	if err := ValidateLogging(&c.Logging); err != nil {
		return err
	}
	if err := ValidateOpenTelemetry(&c.OpenTelemetry); err != nil {
		return err
	}
	return ValidateProfiling(&c.Profiling)
}

func (c *Config) validateDevices() error {
	if len(c.BLE.Devices) == 0 {
		return fmt.Errorf("at least one device must be configured")
	}

	seenNames := make(map[string]bool)
	seenMACs := make(map[string]bool)
	fridges := 0

	for i, dev := range c.BLE.Devices {
		if dev.Name == "" {
			return fmt.Errorf("device %d: name is required", i)
		}
		if seenNames[dev.Name] {
			return fmt.Errorf("device %s: duplicate name", dev.Name)
		}
		seenNames[dev.Name] = true

		if !macAddressRegex.MatchString(dev.MACAddress) {
			return fmt.Errorf("device %s: invalid MAC address format: %s (expected format: XX:XX:XX:XX:XX:XX)", dev.Name, dev.MACAddress)
		}
		macUpper := strings.ToUpper(dev.MACAddress)
		if seenMACs[macUpper] {
			return fmt.Errorf("device %s: duplicate MAC address %s", dev.Name, dev.MACAddress)
		}
		seenMACs[macUpper] = true

		kind, err := decoder.ParseKind(dev.Kind)
		if err != nil {
			return fmt.Errorf("device %s: %w", dev.Name, err)
		}
		if kind == decoder.KindFridge {
			fridges++
		}

		if kind.Encrypted() {
			key, err := hex.DecodeString(dev.Key)
			if err != nil || len(key) != 16 {
				return fmt.Errorf("device %s: key must be 32 hex characters", dev.Name)
			}
		} else if dev.Key != "" {
			return fmt.Errorf("device %s: %s devices take no key", dev.Name, kind)
		}
	}

	if fridges > 1 {
		return fmt.Errorf("at most one fridge can be configured, got %d", fridges)
	}
	return nil
}

// DecodedKey returns the decoded advertisement key, nil when none is configured.
func (d DeviceConfig) DecodedKey() []byte {
	if d.Key == "" {
		return nil
	}
	key, err := hex.DecodeString(d.Key)
	if err != nil {
		return nil
	}
	return key
}

// ScanInterval returns the scan interval as a duration
func (b BLEConfig) ScanInterval() time.Duration {
	return time.Duration(b.ScanIntervalMillis) * time.Millisecond
}

// ScanWindow returns the scan window as a duration
func (b BLEConfig) ScanWindow() time.Duration {
	return time.Duration(b.ScanWindowMillis) * time.Millisecond
}

// AutoReconnect reports whether a disconnected fridge is reconnected on the
// next query tick.
func (f FridgeConfig) AutoReconnect() bool {
	return !f.DisableAutoReconnect
}

// QoSLevel returns the MQTT quality of service as a byte.
func (m MQTTConfig) QoSLevel() (byte, error) {
	switch strings.TrimSpace(m.QoS) {
	case "0":
		return 0, nil
	case "1":
		return 1, nil
	case "2":
		return 2, nil
	}
	return 0, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %q", m.QoS)
}

// PrintConfig prints the configuration (masking sensitive fields)
func (c *Config) PrintConfig(logger *zap.Logger) {
	deviceInfo := make([]string, len(c.BLE.Devices))
	for i, dev := range c.BLE.Devices {
		keyState := "none"
		if dev.Key != "" {
			keyState = "set"
		}
		deviceInfo[i] = fmt.Sprintf("%s (kind:%s, MAC:%s, key:%s)", dev.Name, strings.ToLower(dev.Kind), dev.MACAddress, keyState)
	}

	logger.Info("configuration loaded",
		zap.Int("scan_interval_ms", c.BLE.ScanIntervalMillis),
		zap.Int("scan_window_ms", c.BLE.ScanWindowMillis),
		zap.Int("min_rssi", c.BLE.MinRSSI),
		zap.Int("device_count", len(c.BLE.Devices)),
		zap.Strings("devices", deviceInfo),
		zap.Bool("fridge_auto_reconnect", c.Fridge.AutoReconnect()),
		zap.Int("fridge_query_interval_seconds", c.Fridge.QueryIntervalSeconds),
		zap.Bool("mqtt_enabled", c.MQTT.Enabled),
		zap.String("mqtt_broker", c.MQTT.Broker),
		zap.String("mqtt_topic_prefix", c.MQTT.TopicPrefix),
		zap.String("mqtt_qos", c.MQTT.QoS),
		zap.Bool("mqtt_password_set", c.MQTT.Password != ""),
		zap.Bool("prometheus_enabled", c.Prometheus.Enabled),
		zap.Int("push_interval_seconds", c.Prometheus.PushIntervalSeconds),
		zap.String("prometheus_url", c.Prometheus.URL),
		zap.String("prometheus_username", c.Prometheus.Username),
		zap.Bool("prometheus_password_set", c.Prometheus.Password != ""),
		zap.Int("buffer_size", c.Prometheus.BufferSize),
		zap.String("log_format", c.Logging.Format),
		zap.String("log_level", c.Logging.Level),
		zap.Bool("otel_enabled", c.OpenTelemetry.Enabled),
		zap.Bool("profiling_enabled", c.Profiling.Enabled),
	)
}
