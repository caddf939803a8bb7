package sqs

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/our-edu/go-sqs-listener/internal/config"
)

const (
	defaultMaxRetryAttempts = 3
	defaultMaxRetryBackoff  = 5 * time.Second
)

// LoadAWSConfig builds the AWS SDK configuration from the region and the
// optional static credentials.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewSQSClient creates an SQS client with bounded SDK retries and an optional
// custom endpoint (for LocalStack, ElasticMQ, etc.)
func NewSQSClient(awsCfg aws.Config, endpoint string) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		o.Retryer = retry.AddWithMaxBackoffDelay(o.Retryer, defaultMaxRetryBackoff)
		o.Retryer = retry.AddWithMaxAttempts(o.Retryer, defaultMaxRetryAttempts)
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// NewCloudWatchClient creates a CloudWatch client with an optional custom endpoint
func NewCloudWatchClient(awsCfg aws.Config, endpoint string) *cloudwatch.Client {
	if endpoint == "" {
		return cloudwatch.NewFromConfig(awsCfg)
	}
	return cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
}
