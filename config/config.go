package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	ParcelTrack ParcelTrackConfig `yaml:"parceltrack"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	ScanRecordedTopicName  string `yaml:"scan_recorded_topic_name"`
	StatusChangedTopicName string `yaml:"status_changed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ParcelTrackConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	TimelineTTLSeconds   int `yaml:"timeline_ttl_seconds"`
	ScanConflictRetries  int `yaml:"scan_conflict_retries"`
	ScanRateLimitPerMin  int `yaml:"scan_rate_limit_per_minute"`

	// Auditor (consistency sweep) settings.
	AuditorHTTPAddr             string `yaml:"auditor_http_addr"`
	AuditorSweepIntervalSeconds int    `yaml:"auditor_sweep_interval_seconds"`
	AuditorBatchSize            int    `yaml:"auditor_batch_size"`
	AuditorConcurrency          int    `yaml:"auditor_concurrency"`
	AuditorLeaseSeconds         int    `yaml:"auditor_lease_seconds"`

	// Audit rescheduling per status. If not set, defaults are "prod-like":
	// active parcels every 30 minutes, terminal weekly, inconsistent every 6h.
	AuditorActiveDelaySeconds       int `yaml:"auditor_active_delay_seconds"`
	AuditorTerminalDelaySeconds     int `yaml:"auditor_terminal_delay_seconds"`
	AuditorInconsistentDelaySeconds int `yaml:"auditor_inconsistent_delay_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
