package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultGroupID       = "formatter-consumer"
	DefaultDBTable       = "telemetry.device_telemetry"
	DefaultHTTPAddr      = ":8080"
	DefaultStatsInterval = 30 * time.Minute
)

// Config holds all configuration values
type Config struct {
	// Kafka
	KafkaBrokers     []string `yaml:"kafka_brokers"`
	KafkaInputTopic  string   `yaml:"kafka_input_topic"`
	KafkaOutputTopic string   `yaml:"kafka_output_topic"`
	KafkaGroupID     string   `yaml:"kafka_group_id"`
	KafkaCACert      string   `yaml:"kafka_ca_cert"`
	KafkaCert        string   `yaml:"kafka_client_cert"` // optional client cert
	KafkaKey         string   `yaml:"kafka_client_key"`  // optional client key

	// PostgreSQL, persistence is skipped when DBURL ends up empty
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBURL      string `yaml:"database_url"`
	DBCACert   string `yaml:"db_ca_cert"`
	DBTable    string `yaml:"db_table"`

	// Formatter
	RegisterLayout string `yaml:"register_layout"` // "unpadded" or "padded"
	ProcessWorkers int    `yaml:"process_workers"`

	// HTTP monitor + realtime sockets
	HTTPAddr  string `yaml:"http_addr"`
	JWTSecret string `yaml:"jwt_secret"`
	JWKSURL   string `yaml:"jwks_url"`

	// Upstream websocket forwarder
	ForwardURL   string `yaml:"forward_ws_url"`
	ForwardToken string `yaml:"forward_ws_token"`

	// S3 archive
	ArchiveBucket string `yaml:"archive_bucket"`
	ArchivePrefix string `yaml:"archive_prefix"`

	StatsInterval time.Duration `yaml:"stats_interval"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	// Load .env if exists
	_ = godotenv.Load() // ignore error, fallback to env vars

	cfg := &Config{
		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKER")),
		KafkaInputTopic:  os.Getenv("KAFKA_INPUT_TOPIC"),
		KafkaOutputTopic: os.Getenv("KAFKA_OUTPUT_TOPIC"),
		KafkaGroupID:     os.Getenv("KAFKA_GROUP_ID"),
		KafkaCACert:      os.Getenv("KAFKA_CA_CERT"),
		KafkaCert:        os.Getenv("KAFKA_CLIENT_CERT"),
		KafkaKey:         os.Getenv("KAFKA_CLIENT_KEY"),

		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBURL:      os.Getenv("DATABASE_URL"),
		DBCACert:   os.Getenv("DB_CA_CERT"),
		DBTable:    os.Getenv("DB_TABLE"),

		RegisterLayout: os.Getenv("REGISTER_LAYOUT"),

		HTTPAddr:  os.Getenv("HTTP_ADDR"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		JWKSURL:   os.Getenv("JWKS_URL"),

		ForwardURL:   os.Getenv("FORWARD_WS_URL"),
		ForwardToken: os.Getenv("FORWARD_WS_TOKEN"),

		ArchiveBucket: os.Getenv("ARCHIVE_BUCKET"),
		ArchivePrefix: os.Getenv("ARCHIVE_PREFIX"),
	}

	var err error
	if cfg.ProcessWorkers, err = envInt("PROCESS_WORKERS"); err != nil {
		return nil, err
	}
	if cfg.StatsInterval, err = envDuration("STATS_INTERVAL"); err != nil {
		return nil, err
	}

	if path := os.Getenv("FORMATTER_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayFile reads a YAML file and copies every non-zero field onto c.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	overlayStrings(map[*string]string{
		&c.KafkaInputTopic:  file.KafkaInputTopic,
		&c.KafkaOutputTopic: file.KafkaOutputTopic,
		&c.KafkaGroupID:     file.KafkaGroupID,
		&c.KafkaCACert:      file.KafkaCACert,
		&c.KafkaCert:        file.KafkaCert,
		&c.KafkaKey:         file.KafkaKey,
		&c.DBHost:           file.DBHost,
		&c.DBPort:           file.DBPort,
		&c.DBUser:           file.DBUser,
		&c.DBPassword:       file.DBPassword,
		&c.DBName:           file.DBName,
		&c.DBURL:            file.DBURL,
		&c.DBCACert:         file.DBCACert,
		&c.DBTable:          file.DBTable,
		&c.RegisterLayout:   file.RegisterLayout,
		&c.HTTPAddr:         file.HTTPAddr,
		&c.JWTSecret:        file.JWTSecret,
		&c.JWKSURL:          file.JWKSURL,
		&c.ForwardURL:       file.ForwardURL,
		&c.ForwardToken:     file.ForwardToken,
		&c.ArchiveBucket:    file.ArchiveBucket,
		&c.ArchivePrefix:    file.ArchivePrefix,
	})
	if len(file.KafkaBrokers) > 0 {
		c.KafkaBrokers = file.KafkaBrokers
	}
	if file.ProcessWorkers != 0 {
		c.ProcessWorkers = file.ProcessWorkers
	}
	if file.StatsInterval != 0 {
		c.StatsInterval = file.StatsInterval
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.KafkaGroupID == "" {
		c.KafkaGroupID = DefaultGroupID
	}
	if c.DBTable == "" {
		c.DBTable = DefaultDBTable
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.ProcessWorkers <= 0 {
		c.ProcessWorkers = 1
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}

	// Build DB URL if not provided
	if c.DBURL == "" && c.DBHost != "" {
		port := c.DBPort
		if port == "" {
			port = "5432"
		}
		sslmode := "disable"
		if c.DBCACert != "" {
			sslmode = "verify-full"
		}
		c.DBURL = fmt.Sprintf(
			"postgresql://%s:%s@%s:%s/%s?sslmode=%s",
			c.DBUser, c.DBPassword, c.DBHost, port, c.DBName, sslmode,
		)
	}
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	var errs []error
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKER is required"))
	}
	if c.KafkaInputTopic == "" {
		errs = append(errs, errors.New("KAFKA_INPUT_TOPIC is required"))
	}
	if c.KafkaOutputTopic == "" {
		errs = append(errs, errors.New("KAFKA_OUTPUT_TOPIC is required"))
	}
	if c.KafkaInputTopic != "" && c.KafkaInputTopic == c.KafkaOutputTopic {
		errs = append(errs, errors.New("KAFKA_INPUT_TOPIC and KAFKA_OUTPUT_TOPIC must differ"))
	}
	if (c.KafkaCert == "") != (c.KafkaKey == "") {
		errs = append(errs, errors.New("KAFKA_CLIENT_CERT and KAFKA_CLIENT_KEY must be set together"))
	}
	switch strings.ToLower(c.RegisterLayout) {
	case "", "unpadded", "padded":
	default:
		errs = append(errs, fmt.Errorf("REGISTER_LAYOUT %q must be unpadded or padded", c.RegisterLayout))
	}
	return errors.Join(errs...)
}

// PersistenceEnabled is true when a database is configured.
func (c *Config) PersistenceEnabled() bool { return c.DBURL != "" }

// RealtimeEnabled is true when websocket clients can be authenticated.
func (c *Config) RealtimeEnabled() bool { return c.JWTSecret != "" || c.JWKSURL != "" }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func overlayStrings(fields map[*string]string) {
	for dst, v := range fields {
		if v != "" {
			*dst = v
		}
	}
}

func envInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
