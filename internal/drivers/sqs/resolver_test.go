package sqs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
	"github.com/our-edu/go-sqs-listener/internal/sqstest"
)

type mapCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newMapCache() *mapCache {
	return &mapCache{values: map[string]string{}}
}

func (c *mapCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *mapCache) Set(_ context.Context, key, value string, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func TestResolver_ResolveName(t *testing.T) {
	fake := sqstest.New()
	url := fake.CreateQueue("prod-orders", 45*time.Second)
	cache := newMapCache()

	resolver := NewResolver(fake, "prod", cache, zerolog.Nop())
	queue, err := resolver.Resolve(context.Background(), "orders", "DelaySeconds")
	require.NoError(t, err)

	assert.Equal(t, "prod-orders", queue.Name)
	assert.Equal(t, url, queue.URL)
	assert.Equal(t, 45*time.Second, queue.VisibilityTimeout)
	assert.Equal(t, "arn:aws:sqs:us-east-2:000000000000:prod-orders", queue.ARN)
	assert.Equal(t, "0", queue.Attribute("DelaySeconds"))

	cached, _ := cache.Get(context.Background(), "queue_url:prod-orders")
	assert.Equal(t, url, cached)
}

func TestResolver_ResolveURL(t *testing.T) {
	fake := sqstest.New()
	url := fake.CreateQueue("payments", 30*time.Second)

	resolver := NewResolver(fake, "prod", nil, zerolog.Nop())
	queue, err := resolver.Resolve(context.Background(), url)
	require.NoError(t, err)

	assert.Equal(t, "payments", queue.Name, "URLs are never prefixed")
	assert.Equal(t, url, queue.URL)
}

func TestResolver_UsesLocalCache(t *testing.T) {
	calls := 0
	api := &mockSQSAPI{
		getQueueUrlFunc: func(_ context.Context, input *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
			calls++
			return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.local/" + *input.QueueName)}, nil
		},
	}

	resolver := NewResolver(api, "", nil, zerolog.Nop())
	for i := 0; i < 3; i++ {
		u, name, err := resolver.ResolveURL(context.Background(), "orders")
		require.NoError(t, err)
		assert.Equal(t, "https://sqs.local/orders", u)
		assert.Equal(t, "orders", name)
	}
	assert.Equal(t, 1, calls)

	resolver.ClearCache()
	_, _, err := resolver.ResolveURL(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestResolver_SharedCacheHit(t *testing.T) {
	api := &mockSQSAPI{}
	cache := newMapCache()
	_ = cache.Set(context.Background(), "queue_url:orders", "https://sqs.local/orders", 0)

	resolver := NewResolver(api, "", cache, zerolog.Nop())
	u, _, err := resolver.ResolveURL(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.local/orders", u)
}

func TestResolver_MissingQueue(t *testing.T) {
	resolver := NewResolver(sqstest.New(), "", nil, zerolog.Nop())

	_, err := resolver.Resolve(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrQueueNotFound))
	assert.True(t, contracts.IsPermanentError(err))
}

func TestResolver_EmptyName(t *testing.T) {
	resolver := NewResolver(sqstest.New(), "", nil, zerolog.Nop())

	_, err := resolver.Resolve(context.Background(), "")
	assert.True(t, contracts.IsValidationError(err))
}

func TestResolver_StaleCachedURLIsForgotten(t *testing.T) {
	fake := sqstest.New()
	cache := newMapCache()
	_ = cache.Set(context.Background(), "queue_url:orders", "https://sqs.us-east-2.amazonaws.com/000000000000/gone", 0)

	resolver := NewResolver(fake, "", cache, zerolog.Nop())
	_, err := resolver.Resolve(context.Background(), "orders")
	require.Error(t, err)

	cached, _ := cache.Get(context.Background(), "queue_url:orders")
	assert.Empty(t, cached)
}
