package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	LiveTrack LiveTrackConfig `yaml:"livetrack"`
	Agent     AgentConfig     `yaml:"agent"`
	Viewer    ViewerConfig    `yaml:"viewer"`
	Log       LogConfig       `yaml:"log"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
}

func (c DatabaseConfig) ConnString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.DBName, sslMode)
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	AgentLocationTopicName string `yaml:"agent_location_topic_name"`
}

func (c KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Host, c.Port)}
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LiveTrackConfig configures the track-api backend.
type LiveTrackConfig struct {
	HTTPAddr              string `yaml:"http_addr"`
	KafkaConsumerGroup    string `yaml:"kafka_consumer_group"`
	PublishViaKafka       bool   `yaml:"publish_via_kafka"`
	SnapshotTTLSeconds    int    `yaml:"snapshot_ttl_seconds"`
	LocationRatePerMinute int    `yaml:"location_rate_per_minute"`
	AdminToken            string `yaml:"admin_token"`

	// Coordinates not refreshed for this long are deleted by PruneSchedule (cron syntax).
	StaleLocationHours int    `yaml:"stale_location_hours"`
	PruneSchedule      string `yaml:"prune_schedule"`
}

// AgentConfig configures the agent-publisher process running on the agent's device.
type AgentConfig struct {
	APIBaseURL  string `yaml:"api_base_url"`
	AgentID     string `yaml:"agent_id"`
	ControlAddr string `yaml:"control_addr"`

	SessionStore string `yaml:"session_store"` // "file" | "redis"
	StateFile    string `yaml:"state_file"`

	HeartbeatSeconds      int   `yaml:"heartbeat_seconds"`
	PublishTimeoutSeconds int   `yaml:"publish_timeout_seconds"`
	AcquireTimeoutSeconds int   `yaml:"acquire_timeout_seconds"`
	HighAccuracy          *bool `yaml:"high_accuracy"`

	GPSMode       string  `yaml:"gps_mode"` // "fake" | "http"
	GPSBaseURL    string  `yaml:"gps_base_url"`
	GPSAPIKey     string  `yaml:"gps_api_key"`
	GPSIntervalMs int     `yaml:"gps_interval_ms"`
	FakeStartLat  float64 `yaml:"fake_start_lat"`
	FakeStartLon  float64 `yaml:"fake_start_lon"`
}

type ViewerConfig struct {
	APIBaseURL          string `yaml:"api_base_url"`
	RefreshSeconds      int    `yaml:"refresh_seconds"`
	FetchTimeoutSeconds int    `yaml:"fetch_timeout_seconds"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LoadConfig reads a YAML file. Variables from a .env file in the working
// directory are loaded first and ${VAR} references in the file are expanded.
func LoadConfig(filename string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
