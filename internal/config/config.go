package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config represents the ingestion daemon's configuration.
type Config struct {
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
	Health  HealthConfig  `mapstructure:"health"`
}

// MQTTConfig contains MQTT broker and subscription configuration.
type MQTTConfig struct {
	Broker   string        `mapstructure:"broker"`
	ClientID string        `mapstructure:"client_id"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	QoS      byte          `mapstructure:"qos"`
	Topics   []TopicConfig `mapstructure:"topics"`
	UseTLS   bool          `mapstructure:"use_tls"`
}

// TopicConfig represents one subscribed topic template.
type TopicConfig struct {
	Pattern string `mapstructure:"pattern"`
	QoS     byte   `mapstructure:"qos"`
}

// CacheConfig selects and configures the Registration Cache backend.
type CacheConfig struct {
	Backend string         `mapstructure:"backend"`
	Options map[string]any `mapstructure:"options"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HealthConfig contains health check server settings.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// defaultTopics mirrors subscribed topic templates, one per
// componentId wildcard.
var defaultTopics = []map[string]any{
	{"pattern": "+/system/info", "qos": 1},
	{"pattern": "+/system/register/prop", "qos": 1},
	{"pattern": "+/system/prop/#", "qos": 1},
	{"pattern": "+/system/connections", "qos": 0},
	{"pattern": "+/app/info", "qos": 1},
	{"pattern": "+/app/register/prop", "qos": 1},
	{"pattern": "+/app/prop/#", "qos": 1},
}

// Load reads configuration from file and environment variables, applies
// defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("INGESTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WatchLogLevel arranges for cfg.Logging.Level to follow the config
// file on disk: viper re-reads the file on every write and onChange is
// invoked with the freshly unmarshalled config, used to hot-reload the
// log level without a process restart.
func WatchLogLevel(configPath string, onChange func(*Config)) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config for watching: %w", err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.use_tls", true)
	v.SetDefault("mqtt.topics", defaultTopics)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("health.enabled", true)
	v.SetDefault("health.port", 8080)
}
