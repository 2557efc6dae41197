// Package config loads server settings from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config lists the tunable parameters for the RollCall server.
type Config struct {
	HTTPPort        int    `yaml:"http_port"`
	MQTTBindAddress string `yaml:"mqtt_bind"`
	DatabasePath    string `yaml:"database_path"`
	RecordsURL      string `yaml:"records_service_url"`
	LogLevel        string `yaml:"log_level"`
}

const (
	defaultHTTPPort        = 8080
	defaultMQTTBindAddress = ":1883"
	defaultDatabasePath    = "data/rollcall.db"
	defaultRecordsURL      = "http://localhost:9000"
	defaultLogLevel        = "info"

	defaultConfigPath = "rollcall.yaml"
)

// Load derives configuration from an optional YAML file (path from
// ROLLCALL_CONFIG, else ./rollcall.yaml if present) with environment
// variables taking precedence, falling back to defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:        defaultHTTPPort,
		MQTTBindAddress: defaultMQTTBindAddress,
		DatabasePath:    defaultDatabasePath,
		RecordsURL:      defaultRecordsURL,
		LogLevel:        defaultLogLevel,
	}

	path := os.Getenv("ROLLCALL_CONFIG")
	explicit := path != ""
	if path == "" {
		path = defaultConfigPath
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if explicit {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if v := os.Getenv("ROLLCALL_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ROLLCALL_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}

	if v := os.Getenv("ROLLCALL_MQTT_BIND"); v != "" {
		cfg.MQTTBindAddress = v
	}

	if v := os.Getenv("ROLLCALL_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	if v := os.Getenv("ROLLCALL_RECORDS_URL"); v != "" {
		cfg.RecordsURL = v
	}

	if v := os.Getenv("ROLLCALL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}
