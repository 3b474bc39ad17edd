package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"bulkops"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	LogLevel        string        `envconfig:"BULKOPS_LOG_LEVEL" default:"info"`
	WorkRoot        string        `envconfig:"BULKOPS_WORK_ROOT" default:"/var/lib/bulkops"`
	MediaRoot       string        `envconfig:"BULKOPS_INGEST_MEDIA_PATH" default:"/dams_ingest"`
	BaseURL         string        `envconfig:"BULKOPS_BASE_URL" default:"https://localhost:3443"`
	SweepInterval   time.Duration `envconfig:"BULKOPS_SWEEP_INTERVAL" default:"30m"`
	SweepMaxRetries int           `envconfig:"BULKOPS_SWEEP_MAX_RETRIES" default:"20"`
	MigrationFolder string        `envconfig:"BULKOPS_MIGRATIONS_FOLDER" default:""`
	SchemaFile      string        `envconfig:"BULKOPS_SCHEMA_FILE" default:""`
	WorkTypes       []string      `envconfig:"BULKOPS_WORK_TYPES" default:"Work,Collection"`
	MetricsAddress  string        `envconfig:"BULKOPS_METRICS_ADDRESS" default:":8080"`
	Kafka           kafkaConfig
}

type kafkaConfig struct {
	Brokers  []string `envconfig:"BULKOPS_KAFKA_BROKERS" default:""`
	Topic    string   `envconfig:"BULKOPS_KAFKA_TOPIC" default:""`
	ClientID string   `envconfig:"BULKOPS_KAFKA_CLIENT_ID" default:""`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a config suitable for tests: in-memory sqlite, no kafka.
func NewDefault() *Config {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		panic(err)
	}
	cfg.Database.Type = "sqlite"
	// shared cache so every pooled connection sees the same database
	cfg.Database.Name = "file::memory:?cache=shared"
	return cfg
}
