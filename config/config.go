package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName                       string   `mapstructure:"app_name"`
	Port                          int      `mapstructure:"port"`
	LogLevel                      string   `mapstructure:"log_level"`
	PrettyLogs                    bool     `mapstructure:"pretty_logs"`
	HttpServerWriteTimeoutSeconds int      `mapstructure:"http_server_write_timeout_seconds"`
	HttpServerReadTimeoutSeconds  int      `mapstructure:"http_server_read_timeout_seconds"`
	HttpServerIdleTimeoutSeconds  int      `mapstructure:"http_server_idle_timeout_seconds"`
	MaxHeaderBytes                int      `mapstructure:"http_server_max_header_bytes"`
	ReadHeaderTimeoutSeconds      int      `mapstructure:"http_server_read_header_timeout_seconds"`
	AllowOrigins                  []string `mapstructure:"http_server_allow_origins"`
	AllowMethods                  []string `mapstructure:"http_server_allow_methods"`
	StartupMaxAttempts            int      `mapstructure:"startup_max_attempts"`

	// "postgres" or "memory"
	StoreDriver string `mapstructure:"store_driver"`
	// YAML fixture loaded into the memory store at startup
	MemorySeedFile string `mapstructure:"memory_seed_file"`

	// PostgreSQL (clients, policies, appointments, claims)
	DatabaseDriver                string        `mapstructure:"db_driver"`
	DatabaseHost                  string        `mapstructure:"db_host"`
	DatabasePort                  string        `mapstructure:"db_port"`
	DatabaseUserName              string        `mapstructure:"db_user_name"`
	DatabasePassword              string        `mapstructure:"db_password"`
	DatabaseName                  string        `mapstructure:"db_name"`
	DatabaseSSLMode               string        `mapstructure:"db_ssl_mode"`
	DatabaseMaxOpenConns          int           `mapstructure:"db_max_open_conns"`
	DatabaseMaxIdleConns          int           `mapstructure:"db_max_idle_conns"`
	DatabaseConnMaxLifetime       time.Duration `mapstructure:"db_conn_max_lifetime"`
	DatabaseMigrationFolderPath   string        `mapstructure:"db_migration_folder_path"`
	DatabaseMigrationVersion      int           `mapstructure:"db_migration_version"`
	DatabaseMigrationForce        int           `mapstructure:"db_migration_force"`
	DatabaseMigrationAutoRollback bool          `mapstructure:"db_migration_auto_rollback"`

	// Redis (merge pair locks)
	RedisEnabled  bool   `mapstructure:"redis_enabled"`
	RedisHost     string `mapstructure:"redis_host"`
	RedisPort     int    `mapstructure:"redis_port"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Graph projection (Memgraph)
	GraphEnabled    bool   `mapstructure:"graph_enabled"`
	GraphDBHost     string `mapstructure:"graph_db_host"`
	GraphDBPort     int    `mapstructure:"graph_db_port"`
	GraphDBUser     string `mapstructure:"graph_db_user"`
	GraphDBPassword string `mapstructure:"graph_db_password"`
	GraphDBName     string `mapstructure:"graph_db_name"`

	// Kafka producer (client lifecycle events)
	KafkaEnabled      bool     `mapstructure:"kafka_enabled"`
	KafkaBrokers      []string `mapstructure:"kafka_brokers"`
	KafkaOutputTopic  string   `mapstructure:"kafka_output_topic"`
	KafkaBatchSize    int      `mapstructure:"kafka_batch_size"`
	KafkaBatchTimeout int      `mapstructure:"kafka_batch_timeout_ms"`
	KafkaRequiredAcks int      `mapstructure:"kafka_required_acks"`
	KafkaCompression  string   `mapstructure:"kafka_compression"`

	// Tracing: "none", "console", "otlp-grpc" or "otlp-http"
	TracingExporter string `mapstructure:"tracing_exporter"`
	TracingEndpoint string `mapstructure:"tracing_endpoint"`
	TracingInsecure bool   `mapstructure:"tracing_insecure"`

	// Duplicate detection
	GroupingStrategy     string        `mapstructure:"grouping_strategy"`
	PhoneCountryCode     string        `mapstructure:"phone_country_code"`
	PhoneNationalLengths []int         `mapstructure:"phone_national_lengths"`
	ReviewSessionIdleTTL time.Duration `mapstructure:"review_session_idle_ttl"`

	MergeTimeout time.Duration `mapstructure:"merge_timeout"`
}

var defaults = map[string]any{
	"app_name":                                "clover-api",
	"port":                                    3004,
	"log_level":                               "info",
	"pretty_logs":                             false,
	"http_server_write_timeout_seconds":       10,
	"http_server_read_timeout_seconds":        10,
	"http_server_idle_timeout_seconds":        10,
	"http_server_max_header_bytes":            64000, // 64KB
	"http_server_read_header_timeout_seconds": 10,
	"http_server_allow_origins":               []string{"*"},
	"http_server_allow_methods":               []string{"GET", "POST", "PUT", "DELETE"},
	"startup_max_attempts":                    5,

	"store_driver":     "postgres",
	"memory_seed_file": "",

	"db_driver":                  "postgres",
	"db_host":                    "",
	"db_port":                    "5432",
	"db_user_name":               "",
	"db_password":                "",
	"db_name":                    "clover",
	"db_ssl_mode":                "disable",
	"db_max_open_conns":          25,
	"db_max_idle_conns":          10,
	"db_conn_max_lifetime":       "10s",
	"db_migration_folder_path":   "db/pg",
	"db_migration_version":       0,
	"db_migration_force":         0,
	"db_migration_auto_rollback": true,

	"redis_enabled":  false,
	"redis_host":     "localhost",
	"redis_port":     6379,
	"redis_password": "",
	"redis_db":       0,

	"graph_enabled":     false,
	"graph_db_host":     "localhost",
	"graph_db_port":     7687,
	"graph_db_user":     "",
	"graph_db_password": "",
	"graph_db_name":     "",

	"kafka_enabled":          false,
	"kafka_brokers":          []string{"localhost:9092"},
	"kafka_output_topic":     "client-events",
	"kafka_batch_size":       100,
	"kafka_batch_timeout_ms": 100,
	"kafka_required_acks":    1,
	"kafka_compression":      "snappy",

	"tracing_exporter": "none",
	"tracing_endpoint": "localhost:4317",
	"tracing_insecure": true,

	"grouping_strategy":       "greedy",
	"phone_country_code":      "55",
	"phone_national_lengths":  []int{10, 11},
	"review_session_idle_ttl": "30m",

	"merge_timeout": "15s",
}

// Load reads optional .env files, then an optional config file, then the
// process environment. Keys map to upper-case env names (db_host -> DB_HOST).
func Load(configFile string, envFiles ...string) (*Config, error) {
	// a missing .env is fine, the process environment still applies
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported store driver %q", c.StoreDriver)
	}
	switch c.GroupingStrategy {
	case "greedy", "components":
	default:
		return fmt.Errorf("unsupported grouping strategy %q", c.GroupingStrategy)
	}
	if len(c.PhoneNationalLengths) == 0 {
		return fmt.Errorf("phone_national_lengths must not be empty")
	}
	if c.MergeTimeout <= 0 {
		return fmt.Errorf("merge_timeout must be positive")
	}
	return nil
}

// DatabaseDSN builds the lib/pq connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUserName, c.DatabasePassword, c.DatabaseName, c.DatabaseSSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
