// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Redis, Kafka, Postgres, Index, Querying, Translation) and
// flattens the query-engine sections into a Properties provider.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	Index       IndexConfig       `yaml:"index"`
	Querying    QueryingConfig    `yaml:"querying"`
	Translation TranslationConfig `yaml:"translation"`
	Batch       BatchConfig       `yaml:"batch"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of search requests one client may make per
	// minute. Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	QueryEvents   string `yaml:"queryEvents"`
	IndexComplete string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection and result-caching parameters.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"poolSize"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`
	LocalSize int           `yaml:"localSize"`
}

// IndexConfig locates the segment file served by the searcher.
type IndexConfig struct {
	Path   string   `yaml:"path"`
	Fields []string `yaml:"fields"`
}

// StageConfig is the order/controls pair for one extension point. Order is a
// comma-separated list of stage names; Controls is a comma-separated list of
// control:stage pairs.
type StageConfig struct {
	Order    string `yaml:"order"`
	Controls string `yaml:"controls"`
}

// QueryingConfig drives the query manager: control handling, stage
// selection and default models.
type QueryingConfig struct {
	AllowedControls       string      `yaml:"allowedControls"`
	DefaultControls       string      `yaml:"defaultControls"`
	Preprocesses          StageConfig `yaml:"preprocesses"`
	Postprocesses         StageConfig `yaml:"postprocesses"`
	Postfilters           StageConfig `yaml:"postfilters"`
	LastPreprocess        string      `yaml:"lastPreprocess"`
	LastPostprocess       string      `yaml:"lastPostprocess"`
	MatchEmptyQuery       bool        `yaml:"matchEmptyQuery"`
	CachingFilters        bool        `yaml:"cachingFilters"`
	NoNegativeRequirement bool        `yaml:"noNegativeRequirement"`
	RunAllStages          bool        `yaml:"runAllStages"`
	TermPipelines         string      `yaml:"termPipelines"`
	MatchingModel         string      `yaml:"matchingModel"`
	WeightingModel        string      `yaml:"weightingModel"`
}

// TranslationConfig controls the translation index used by the cross-lingual
// scoring variants.
type TranslationConfig struct {
	TopTerms          int           `yaml:"topTerms"`
	Store             string        `yaml:"store"`
	SQLitePath        string        `yaml:"sqlitePath"`
	SourceEmbeddings  string        `yaml:"sourceEmbeddings"`
	TargetEmbeddings  string        `yaml:"targetEmbeddings"`
	SourceStopwords   string        `yaml:"sourceStopwords"`
	LoadTimeout       time.Duration `yaml:"loadTimeout"`
	LoadRetryAttempts int           `yaml:"loadRetryAttempts"`
}

// BatchConfig controls the batch query runner.
type BatchConfig struct {
	Parallelism int    `yaml:"parallelism"`
	RunTag      string `yaml:"runTag"`
	MaxResults  int    `yaml:"maxResults"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "terrier",
			User:            "terrier",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "terrier-searcher",
			Topics: KafkaTopics{
				QueryEvents:   "query-events",
				IndexComplete: "index.complete",
			},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			CacheTTL:  60 * time.Second,
			LocalSize: 1024,
		},
		Index: IndexConfig{
			Path: "data/index.spdx",
		},
		Querying: QueryingConfig{
			AllowedControls: "c,start,end",
			TermPipelines:   "Stopwords,PorterStemmer",
			MatchingModel:   "standard",
			WeightingModel:  "InL2",
		},
		Translation: TranslationConfig{
			TopTerms:          10,
			Store:             "none",
			SQLitePath:        "data/translations.db",
			LoadTimeout:       2 * time.Minute,
			LoadRetryAttempts: 3,
		},
		Batch: BatchConfig{
			Parallelism: 4,
			RunTag:      "terrier",
			MaxResults:  1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_SERVER_RATE_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = limit
		}
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_INDEX_PATH"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("SP_QUERYING_MATCHING_MODEL"); v != "" {
		cfg.Querying.MatchingModel = v
	}
	if v := os.Getenv("SP_QUERYING_WEIGHTING_MODEL"); v != "" {
		cfg.Querying.WeightingModel = v
	}
	if v := os.Getenv("SP_TRANSLATION_STORE"); v != "" {
		cfg.Translation.Store = v
	}
	if v := os.Getenv("SP_TRANSLATION_TOP_TERMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Translation.TopTerms = n
		}
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
