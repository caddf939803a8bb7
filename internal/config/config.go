// Package config provides configuration management for the SQS listener container.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AckMode selects how successful messages are deleted
type AckMode string

const (
	// AckModeSync deletes each message as soon as it is processed
	AckModeSync AckMode = "sync"
	// AckModeAsync collects deletions into batches flushed in the background
	AckModeAsync AckMode = "async"
)

// DeliveryMode selects how a received batch is handed to the pipeline
type DeliveryMode string

const (
	// DeliveryConcurrent processes the messages of a batch in parallel
	DeliveryConcurrent DeliveryMode = "concurrent"
	// DeliveryOrdered processes the messages of a batch one after another
	DeliveryOrdered DeliveryMode = "ordered"
)

// Config holds all configuration for the listener container
type Config struct {
	AWS       AWSConfig
	SQS       SQSConfig
	Listener  ListenerConfig
	Container ContainerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
}

// AWSConfig holds AWS credentials and region
type AWSConfig struct {
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	Region          string `json:"region" yaml:"region"`
	// Endpoint overrides the service endpoint (LocalStack, ElasticMQ)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// SQSConfig holds queue naming and metrics settings
type SQSConfig struct {
	// Prefix for queue names (usually environment like dev, staging, prod)
	Prefix string `json:"prefix" yaml:"prefix"`
	// CloudWatch settings
	CloudWatch CloudWatchConfig `json:"cloudwatch" yaml:"cloudwatch"`
	// Prometheus settings
	Prometheus PrometheusConfig `json:"prometheus" yaml:"prometheus"`
}

// CloudWatchConfig holds CloudWatch metrics settings
type CloudWatchConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// PrometheusConfig holds Prometheus metrics settings
type PrometheusConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Subsystem string `json:"subsystem" yaml:"subsystem"`
}

// ListenerConfig holds the defaults applied to every registered listener
type ListenerConfig struct {
	// MaxInFlight bounds the number of unacknowledged messages per queue
	MaxInFlight int `json:"max_in_flight" yaml:"max_in_flight"`
	// MessagesPerPoll is the maximum number of messages requested per receive call (1-10)
	MessagesPerPoll int `json:"messages_per_poll" yaml:"messages_per_poll"`
	// PollTimeout is the long polling wait time
	PollTimeout time.Duration `json:"poll_timeout" yaml:"poll_timeout"`
	// PermitAcquireTimeout bounds how long the source waits for capacity
	PermitAcquireTimeout time.Duration `json:"permit_acquire_timeout" yaml:"permit_acquire_timeout"`
	// AckMode selects synchronous or batched acknowledgement
	AckMode AckMode `json:"ack_mode" yaml:"ack_mode"`
	// AckBatchSize is the async flush threshold (1-10)
	AckBatchSize int `json:"ack_batch_size" yaml:"ack_batch_size"`
	// AckInterval is the async flush interval
	AckInterval time.Duration `json:"ack_interval" yaml:"ack_interval"`
	// DeliveryMode selects the sink
	DeliveryMode DeliveryMode `json:"delivery_mode" yaml:"delivery_mode"`
	// Concurrency is the concurrent sink fan-out (0 means MessagesPerPoll)
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	// MessageVisibility overrides the queue visibility timeout (0 keeps the queue's)
	MessageVisibility time.Duration `json:"message_visibility" yaml:"message_visibility"`
}

// ContainerConfig holds container lifecycle settings
type ContainerConfig struct {
	// ShutdownTimeout bounds how long Stop waits for in-flight messages
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver   string `json:"driver" yaml:"driver"` // mysql, postgres
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		AWS: AWSConfig{
			Region: "us-east-2",
		},
		SQS: SQSConfig{
			Prefix: "",
			CloudWatch: CloudWatchConfig{
				Enabled:   false,
				Namespace: "SQS/Listener",
			},
			Prometheus: PrometheusConfig{
				Enabled:   false,
				Namespace: "sqslistener",
			},
		},
		Listener: ListenerConfig{
			MaxInFlight:          10,
			MessagesPerPoll:      10,
			PollTimeout:          10 * time.Second,
			PermitAcquireTimeout: 10 * time.Second,
			AckMode:              AckModeSync,
			AckBatchSize:         10,
			AckInterval:          time.Second,
			DeliveryMode:         DeliveryConcurrent,
			Concurrency:          0,
		},
		Container: ContainerConfig{
			ShutdownTimeout: 20 * time.Second,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Database: DatabaseConfig{
			Driver:   "mysql",
			Host:     "localhost",
			Port:     3306,
			Database: "messaging",
			Username: "root",
		},
	}
}

// GetPrefixedQueueName returns the queue name with environment prefix
func (c *Config) GetPrefixedQueueName(queueName string) string {
	if c.SQS.Prefix == "" || IsQueueURL(queueName) {
		return queueName
	}
	return c.SQS.Prefix + "-" + queueName
}

// IsQueueURL reports whether the queue identifier is already a URL
func IsQueueURL(queue string) bool {
	return strings.HasPrefix(queue, "https://") || strings.HasPrefix(queue, "http://")
}

// Helper functions using Viper

func getViperString(key, defaultValue string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}

func getViperBool(key string, defaultValue bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return defaultValue
}

func getViperInt(key string, defaultValue int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	return defaultValue
}

// getViperSeconds reads an integer number of seconds
func getViperSeconds(key string, defaultValue time.Duration) time.Duration {
	if viper.IsSet(key) {
		return time.Duration(viper.GetInt(key)) * time.Second
	}
	return defaultValue
}

// LoadDotEnv loads environment variables from .env file using Viper
func LoadDotEnv() error {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")

	viper.AutomaticEnv()

	// Read .env file - it's okay if it doesn't exist
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// Load loads configuration from .env file and environment variables
func Load() *Config {
	_ = LoadDotEnv()
	return LoadFromViper()
}

// LoadFromViper loads configuration from Viper (after .env is loaded)
func LoadFromViper() *Config {
	cfg := DefaultConfig()

	// AWS config
	cfg.AWS.AccessKeyID = getViperString("AWS_SQS_ACCESS_KEY_ID", cfg.AWS.AccessKeyID)
	cfg.AWS.SecretAccessKey = getViperString("AWS_SQS_SECRET_ACCESS_KEY", cfg.AWS.SecretAccessKey)
	cfg.AWS.Region = getViperString("AWS_DEFAULT_REGION", cfg.AWS.Region)
	cfg.AWS.Endpoint = getViperString("AWS_ENDPOINT", cfg.AWS.Endpoint)

	// SQS config
	cfg.SQS.Prefix = getViperString("SQS_QUEUE_PREFIX", cfg.SQS.Prefix)
	cfg.SQS.CloudWatch.Enabled = getViperBool("SQS_CLOUDWATCH_ENABLED", cfg.SQS.CloudWatch.Enabled)
	if ns := getViperString("SQS_CLOUDWATCH_NAMESPACE", ""); ns != "" {
		cfg.SQS.CloudWatch.Namespace = ns
	}
	cfg.SQS.Prometheus.Enabled = getViperBool("SQS_PROMETHEUS_ENABLED", cfg.SQS.Prometheus.Enabled)
	if ns := getViperString("SQS_PROMETHEUS_NAMESPACE", ""); ns != "" {
		cfg.SQS.Prometheus.Namespace = ns
	}

	// Listener defaults
	cfg.Listener.MaxInFlight = getViperInt("SQS_MAX_IN_FLIGHT", cfg.Listener.MaxInFlight)
	cfg.Listener.MessagesPerPoll = getViperInt("SQS_MESSAGES_PER_POLL", cfg.Listener.MessagesPerPoll)
	cfg.Listener.PollTimeout = getViperSeconds("SQS_POLL_TIMEOUT", cfg.Listener.PollTimeout)
	cfg.Listener.PermitAcquireTimeout = getViperSeconds("SQS_PERMIT_ACQUIRE_TIMEOUT", cfg.Listener.PermitAcquireTimeout)
	if mode := getViperString("SQS_ACK_MODE", ""); mode != "" {
		cfg.Listener.AckMode = AckMode(strings.ToLower(strings.TrimSpace(mode)))
	}
	cfg.Listener.AckBatchSize = getViperInt("SQS_ACK_BATCH_SIZE", cfg.Listener.AckBatchSize)
	if viper.IsSet("SQS_ACK_INTERVAL_MS") {
		cfg.Listener.AckInterval = time.Duration(viper.GetInt("SQS_ACK_INTERVAL_MS")) * time.Millisecond
	}
	if mode := getViperString("SQS_DELIVERY_MODE", ""); mode != "" {
		cfg.Listener.DeliveryMode = DeliveryMode(strings.ToLower(strings.TrimSpace(mode)))
	}
	cfg.Listener.Concurrency = getViperInt("SQS_CONCURRENCY", cfg.Listener.Concurrency)
	cfg.Listener.MessageVisibility = getViperSeconds("SQS_MESSAGE_VISIBILITY", cfg.Listener.MessageVisibility)

	// Container
	cfg.Container.ShutdownTimeout = getViperSeconds("SQS_SHUTDOWN_TIMEOUT", cfg.Container.ShutdownTimeout)

	// Redis config
	cfg.Redis.Host = getViperString("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getViperInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getViperString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getViperInt("REDIS_DB", cfg.Redis.DB)

	// Database config
	cfg.Database.Driver = getViperString("DB_CONNECTION", cfg.Database.Driver)
	cfg.Database.Host = getViperString("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getViperInt("DB_PORT", cfg.Database.Port)
	cfg.Database.Database = getViperString("DB_DATABASE", cfg.Database.Database)
	cfg.Database.Username = getViperString("DB_USERNAME", cfg.Database.Username)
	cfg.Database.Password = getViperString("DB_PASSWORD", cfg.Database.Password)

	return cfg
}
