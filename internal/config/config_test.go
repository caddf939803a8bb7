package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Test listener defaults
	if cfg.Listener.MaxInFlight != 10 {
		t.Errorf("expected MaxInFlight 10, got %d", cfg.Listener.MaxInFlight)
	}
	if cfg.Listener.MessagesPerPoll != 10 {
		t.Errorf("expected MessagesPerPoll 10, got %d", cfg.Listener.MessagesPerPoll)
	}
	if cfg.Listener.PollTimeout != 10*time.Second {
		t.Errorf("expected PollTimeout 10s, got %v", cfg.Listener.PollTimeout)
	}
	if cfg.Listener.AckMode != AckModeSync {
		t.Errorf("expected AckMode '%s', got '%s'", AckModeSync, cfg.Listener.AckMode)
	}
	if cfg.Listener.DeliveryMode != DeliveryConcurrent {
		t.Errorf("expected DeliveryMode '%s', got '%s'", DeliveryConcurrent, cfg.Listener.DeliveryMode)
	}
	if cfg.Listener.AckBatchSize != 10 {
		t.Errorf("expected AckBatchSize 10, got %d", cfg.Listener.AckBatchSize)
	}

	// Test container defaults
	if cfg.Container.ShutdownTimeout != 20*time.Second {
		t.Errorf("expected ShutdownTimeout 20s, got %v", cfg.Container.ShutdownTimeout)
	}

	// Test AWS defaults
	if cfg.AWS.Region != "us-east-2" {
		t.Errorf("expected Region 'us-east-2', got '%s'", cfg.AWS.Region)
	}

	// Test Redis defaults
	if cfg.Redis.Host != "localhost" {
		t.Errorf("expected Redis.Host 'localhost', got '%s'", cfg.Redis.Host)
	}
	if cfg.Redis.Port != 6379 {
		t.Errorf("expected Redis.Port 6379, got %d", cfg.Redis.Port)
	}
}

func TestGetPrefixedQueueName(t *testing.T) {
	tests := []struct {
		name      string
		prefix    string
		queueName string
		expected  string
	}{
		{"with prefix", "prod", "my-queue", "prod-my-queue"},
		{"empty prefix", "", "my-queue", "my-queue"},
		{"dev prefix", "dev", "order-events", "dev-order-events"},
		{"url is never prefixed", "prod", "https://sqs.us-east-2.amazonaws.com/123/orders", "https://sqs.us-east-2.amazonaws.com/123/orders"},
		{"local url", "dev", "http://localhost:4566/000000000000/orders", "http://localhost:4566/000000000000/orders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.SQS.Prefix = tt.prefix

			result := cfg.GetPrefixedQueueName(tt.queueName)

			if result != tt.expected {
				t.Errorf("expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestIsQueueURL(t *testing.T) {
	tests := []struct {
		queue    string
		expected bool
	}{
		{"orders", false},
		{"https://sqs.eu-west-1.amazonaws.com/123/orders", true},
		{"http://localhost:9324/queue/orders", true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.queue, func(t *testing.T) {
			if got := IsQueueURL(tt.queue); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestModeConstants(t *testing.T) {
	if AckModeSync != "sync" {
		t.Errorf("expected AckModeSync to be 'sync', got '%s'", AckModeSync)
	}
	if AckModeAsync != "async" {
		t.Errorf("expected AckModeAsync to be 'async', got '%s'", AckModeAsync)
	}
	if DeliveryOrdered != "ordered" {
		t.Errorf("expected DeliveryOrdered to be 'ordered', got '%s'", DeliveryOrdered)
	}
}

func TestAWSConfigEndpoint(t *testing.T) {
	cfg := DefaultConfig()

	// Default should be empty
	if cfg.AWS.Endpoint != "" {
		t.Errorf("expected empty Endpoint by default, got '%s'", cfg.AWS.Endpoint)
	}
}

func TestCloudWatchConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.SQS.CloudWatch.Enabled {
		t.Error("expected CloudWatch.Enabled to be false by default")
	}
	if cfg.SQS.CloudWatch.Namespace != "SQS/Listener" {
		t.Errorf("expected CloudWatch.Namespace 'SQS/Listener', got '%s'", cfg.SQS.CloudWatch.Namespace)
	}
}

func TestDatabaseConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Database.Driver != "mysql" {
		t.Errorf("expected Database.Driver 'mysql', got '%s'", cfg.Database.Driver)
	}
	if cfg.Database.Port != 3306 {
		t.Errorf("expected Database.Port 3306, got %d", cfg.Database.Port)
	}
}

func TestLoadFromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("SQS_QUEUE_PREFIX", "staging")
	viper.Set("SQS_MAX_IN_FLIGHT", 25)
	viper.Set("SQS_MESSAGES_PER_POLL", 5)
	viper.Set("SQS_POLL_TIMEOUT", 3)
	viper.Set("SQS_ACK_MODE", " ASYNC ")
	viper.Set("SQS_ACK_INTERVAL_MS", 250)
	viper.Set("SQS_DELIVERY_MODE", "ordered")
	viper.Set("SQS_SHUTDOWN_TIMEOUT", 7)
	viper.Set("SQS_PROMETHEUS_ENABLED", true)
	viper.Set("AWS_ENDPOINT", "http://localhost:4566")

	cfg := LoadFromViper()

	if cfg.SQS.Prefix != "staging" {
		t.Errorf("expected prefix 'staging', got '%s'", cfg.SQS.Prefix)
	}
	if cfg.Listener.MaxInFlight != 25 {
		t.Errorf("expected MaxInFlight 25, got %d", cfg.Listener.MaxInFlight)
	}
	if cfg.Listener.MessagesPerPoll != 5 {
		t.Errorf("expected MessagesPerPoll 5, got %d", cfg.Listener.MessagesPerPoll)
	}
	if cfg.Listener.PollTimeout != 3*time.Second {
		t.Errorf("expected PollTimeout 3s, got %v", cfg.Listener.PollTimeout)
	}
	if cfg.Listener.AckMode != AckModeAsync {
		t.Errorf("expected AckMode async, got '%s'", cfg.Listener.AckMode)
	}
	if cfg.Listener.AckInterval != 250*time.Millisecond {
		t.Errorf("expected AckInterval 250ms, got %v", cfg.Listener.AckInterval)
	}
	if cfg.Listener.DeliveryMode != DeliveryOrdered {
		t.Errorf("expected DeliveryMode ordered, got '%s'", cfg.Listener.DeliveryMode)
	}
	if cfg.Container.ShutdownTimeout != 7*time.Second {
		t.Errorf("expected ShutdownTimeout 7s, got %v", cfg.Container.ShutdownTimeout)
	}
	if !cfg.SQS.Prometheus.Enabled {
		t.Error("expected Prometheus to be enabled")
	}
	if cfg.AWS.Endpoint != "http://localhost:4566" {
		t.Errorf("expected Endpoint 'http://localhost:4566', got '%s'", cfg.AWS.Endpoint)
	}

	// Unset keys keep their defaults
	if cfg.Listener.AckBatchSize != 10 {
		t.Errorf("expected AckBatchSize 10, got %d", cfg.Listener.AckBatchSize)
	}
}
