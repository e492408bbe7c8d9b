package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hicksonhaziel/xandviz/scoring"
)

// Secrets read from the environment override the file.
const (
	EnvCollectToken  = "XANDVIZ_COLLECT_TOKEN"
	EnvRedisPassword = "XANDVIZ_REDIS_PASSWORD"
)

type Config struct {
	mu sync.RWMutex `yaml:"-"`

	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	PRPC       PRPCConfig       `yaml:"prpc"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	TimeSeries TimeSeriesConfig `yaml:"timeseries"`
	Cache      CacheConfig      `yaml:"cache"`
	Collector  CollectorConfig  `yaml:"collector"`
	Web        WebConfig        `yaml:"web"`
	Messaging  MessagingConfig  `yaml:"messaging"`
	Log        LogConfig        `yaml:"log"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Prefix is prepended to every key this service writes.
	Prefix string `yaml:"prefix"`
}

type PRPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	StatsTimeout time.Duration `yaml:"stats_timeout"`
	ClusterTTL   time.Duration `yaml:"cluster_ttl"`
	CreditsURL   string        `yaml:"credits_url"`
}

type ScoringConfig struct {
	UptimeCap       float64 `yaml:"uptime_cap"`
	VersionFallback float64 `yaml:"version_fallback"`
	// Versions replaces the built-in version table when non-empty.
	Versions      map[string]float64 `yaml:"versions"`
	LatestVersion string             `yaml:"latest_version"`
}

// Policy converts the section into a scoring policy.
func (s ScoringConfig) Policy() scoring.Policy {
	p := scoring.DefaultPolicy()
	if s.UptimeCap > 0 {
		p.UptimeCap = s.UptimeCap
	}
	if s.VersionFallback > 0 {
		p.VersionFallback = s.VersionFallback
	}
	if len(s.Versions) > 0 {
		p.VersionPoints = make(map[string]float64, len(s.Versions))
		for v, pts := range s.Versions {
			p.VersionPoints[v] = pts
		}
	}
	p.LatestVersion = s.LatestVersion
	return p
}

type TimeSeriesConfig struct {
	Backend   string        `yaml:"backend"` // "redis" or "memory"
	Retention time.Duration `yaml:"retention"`
	EntityTTL time.Duration `yaml:"entity_ttl"`
}

type CacheConfig struct {
	Backend        string        `yaml:"backend"` // "redis" or "memory"
	NodesTTL       time.Duration `yaml:"nodes_ttl"`
	LeaderboardTTL time.Duration `yaml:"leaderboard_ttl"`
	ScoreTTL       time.Duration `yaml:"score_ttl"`
}

type CollectorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Workers  int           `yaml:"workers"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// CollectToken guards POST /api/analytics/collect. CollectTokenHash, a bcrypt
	// hash, takes precedence when set.
	CollectToken     string   `yaml:"collect_token"`
	CollectTokenHash string   `yaml:"collect_token_hash"`
	CORSOrigins      []string `yaml:"cors_origins"`
}

type MessagingConfig struct {
	Backend         string      `yaml:"backend"` // "kafka", "mqtt" or "none"
	MQTT            MQTTConfig  `yaml:"mqtt"`
	Kafka           KafkaConfig `yaml:"kafka"`
	CollectionTopic string      `yaml:"collection_topic"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// File enables rotation through lumberjack; empty logs to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "xandviz.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "xandviz",
				User:     "xandviz",
				Password: "",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			DB:      0,
			Prefix:  "xandviz:",
		},
		PRPC: PRPCConfig{
			Endpoint:     "http://173.212.203.145:6000/rpc",
			Timeout:      5 * time.Second,
			StatsTimeout: 3 * time.Second,
			ClusterTTL:   30 * time.Second,
			CreditsURL:   "https://podcredits.xandeum.network/api/pods-credits",
		},
		Scoring: ScoringConfig{
			UptimeCap:       scoring.DefaultUptimeCap,
			VersionFallback: scoring.DefaultVersionFallback,
			LatestVersion:   "0.8.0",
		},
		TimeSeries: TimeSeriesConfig{
			Backend:   "redis",
			Retention: 7 * 24 * time.Hour,
			EntityTTL: 60 * 24 * time.Hour,
		},
		Cache: CacheConfig{
			Backend:        "redis",
			NodesTTL:       30 * time.Second,
			LeaderboardTTL: 60 * time.Second,
			ScoreTTL:       60 * time.Second,
		},
		Collector: CollectorConfig{
			Enabled:  true,
			Interval: 10 * time.Minute,
			Workers:  8,
		},
		Web: WebConfig{
			Host:        "0.0.0.0",
			Port:        8083,
			CORSOrigins: []string{"*"},
		},
		Messaging: MessagingConfig{
			Backend: "none",
			MQTT: MQTTConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "xandviz",
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
			},
			CollectionTopic: "xandviz.collections",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path over Defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvCollectToken); v != "" {
		c.Web.CollectToken = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Redis.Password = v
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.TimeSeries.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported timeseries backend: %s", c.TimeSeries.Backend)
	}
	switch c.Cache.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
	switch c.Messaging.Backend {
	case "kafka", "mqtt", "none", "":
	default:
		return fmt.Errorf("unsupported messaging backend: %s", c.Messaging.Backend)
	}
	if c.Collector.Interval <= 0 {
		return fmt.Errorf("collector interval must be positive")
	}
	if c.Collector.Workers <= 0 {
		return fmt.Errorf("collector workers must be positive")
	}
	return nil
}

// UsesRedis reports whether any backend needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.TimeSeries.Backend == "redis" || c.Cache.Backend == "redis"
}

func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Lock()    { c.mu.Lock() }
func (c *Config) Unlock()  { c.mu.Unlock() }
func (c *Config) RLock()   { c.mu.RLock() }
func (c *Config) RUnlock() { c.mu.RUnlock() }
