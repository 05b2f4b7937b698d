package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Blob       BlobConfig
	Kafka      KafkaConfig
	Outbox     OutboxConfig
	Attachment AttachmentConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	HTTPPort    int           `mapstructure:"http_port"`
	MetricsPort int           `mapstructure:"metrics_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Password    string   `mapstructure:"password"`
	DB          int      `mapstructure:"db"`
	PoolSize    int      `mapstructure:"pool_size"`
	ClusterMode bool     `mapstructure:"cluster_mode"`
}

type BlobConfig struct {
	Driver          string `mapstructure:"driver"` // s3 or memory
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	ClientID   string   `mapstructure:"client_id"`
	AuditTopic string   `mapstructure:"audit_topic"`
}

type OutboxConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	BatchSize           int           `mapstructure:"batch_size"`
	MaxRetries          int           `mapstructure:"max_retries"`
	OpTimeout           time.Duration `mapstructure:"op_timeout"`
	LeaseKey            string        `mapstructure:"lease_key"`
	LeaseTTL            time.Duration `mapstructure:"lease_ttl"`
	RetentionDays       int           `mapstructure:"retention_days"`
	ReconcileInterval   time.Duration `mapstructure:"reconcile_interval"`
	ReconcileStaleAfter time.Duration `mapstructure:"reconcile_stale_after"`
}

type AttachmentConfig struct {
	PreviewMaxBytes int64 `mapstructure:"preview_max_bytes"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/ledgerline/")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("LEDGERLINE")
	viper.AutomaticEnv()

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.metrics_port", 9091)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("redis.addresses", []string{"localhost:6379"})
	viper.SetDefault("redis.pool_size", 100)
	viper.SetDefault("blob.driver", "s3")
	viper.SetDefault("blob.region", "us-east-1")
	viper.SetDefault("kafka.client_id", "ledgerline-outbox-processor")
	viper.SetDefault("kafka.audit_topic", "ledgerline.attachments.audit")
	viper.SetDefault("outbox.poll_interval", "30s")
	viper.SetDefault("outbox.batch_size", 50)
	viper.SetDefault("outbox.max_retries", 3)
	viper.SetDefault("outbox.op_timeout", "10s")
	viper.SetDefault("outbox.lease_key", "ledgerline:outbox:lease")
	viper.SetDefault("outbox.lease_ttl", "2m")
	viper.SetDefault("outbox.retention_days", 30)
	viper.SetDefault("outbox.reconcile_interval", "1h")
	viper.SetDefault("outbox.reconcile_stale_after", "24h")
	viper.SetDefault("attachment.preview_max_bytes", 1048576)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
