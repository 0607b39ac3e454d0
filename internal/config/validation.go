package config

import "fmt"

// Validate checks if the configuration is valid.
func Validate(cfg *Config) error {
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if cfg.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required")
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1, or 2")
	}
	if len(cfg.MQTT.Topics) == 0 {
		return fmt.Errorf("mqtt.topics must have at least one topic")
	}
	for i, topic := range cfg.MQTT.Topics {
		if topic.Pattern == "" {
			return fmt.Errorf("mqtt.topics[%d].pattern is required", i)
		}
		if topic.QoS > 2 {
			return fmt.Errorf("mqtt.topics[%d].qos must be 0, 1, or 2", i)
		}
	}

	if cfg.Cache.Backend == "" {
		return fmt.Errorf("cache.backend is required")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, console")
	}

	if cfg.Health.Enabled && (cfg.Health.Port <= 0 || cfg.Health.Port > 65535) {
		return fmt.Errorf("health.port must be between 1 and 65535")
	}

	return nil
}
