package sqs

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"

	"github.com/our-edu/go-sqs-listener/internal/config"
	"github.com/our-edu/go-sqs-listener/internal/contracts"
)

const (
	// queueURLCacheTTL is how long resolved URLs stay in the shared cache
	queueURLCacheTTL = 24 * 60 * 60

	queueURLCacheKeyPrefix = "queue_url:"
)

// Resolver resolves queue names or URLs to queues with their attributes
type Resolver struct {
	api    API
	prefix string
	cache  contracts.Cache
	logger zerolog.Logger

	urls  map[string]string
	mutex sync.RWMutex
}

// NewResolver creates a new queue resolver. Names are prefixed with prefix
// (see config.GetPrefixedQueueName); cache may be nil.
func NewResolver(api API, prefix string, cache contracts.Cache, logger zerolog.Logger) *Resolver {
	return &Resolver{
		api:    api,
		prefix: prefix,
		cache:  cache,
		logger: logger.With().Str("component", "resolver").Logger(),
		urls:   make(map[string]string),
	}
}

// Resolve looks up the queue URL and fetches the VisibilityTimeout and
// QueueArn attributes plus any extra attribute names.
func (r *Resolver) Resolve(ctx context.Context, nameOrURL string, extraAttributes ...string) (contracts.Queue, error) {
	if nameOrURL == "" {
		return contracts.Queue{}, contracts.NewValidationError("queue name is required", nil)
	}

	queueURL, name, err := r.ResolveURL(ctx, nameOrURL)
	if err != nil {
		return contracts.Queue{}, err
	}

	names := []types.QueueAttributeName{
		types.QueueAttributeNameVisibilityTimeout,
		types.QueueAttributeNameQueueArn,
	}
	for _, attr := range extraAttributes {
		names = append(names, types.QueueAttributeName(attr))
	}

	result, err := r.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: names,
	})
	if err != nil {
		r.forget(ctx, name)
		return contracts.Queue{}, classify(fmt.Sprintf("failed to get attributes of queue %s", name), err)
	}

	attrs := result.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}

	queue := contracts.Queue{
		Name:       name,
		URL:        queueURL,
		ARN:        attrs[string(types.QueueAttributeNameQueueArn)],
		Attributes: attrs,
	}
	if v, ok := attrs[string(types.QueueAttributeNameVisibilityTimeout)]; ok {
		seconds, convErr := strconv.Atoi(v)
		if convErr == nil {
			queue.VisibilityTimeout = time.Duration(seconds) * time.Second
		}
	}

	r.logger.Info().
		Str("queue", name).
		Str("url", queueURL).
		Dur("visibility_timeout", queue.VisibilityTimeout).
		Msg("Resolved queue")

	return queue, nil
}

// ResolveURL returns the URL and the name of a queue. URLs are returned as is.
func (r *Resolver) ResolveURL(ctx context.Context, nameOrURL string) (string, string, error) {
	if config.IsQueueURL(nameOrURL) {
		return nameOrURL, nameFromURL(nameOrURL), nil
	}

	name := nameOrURL
	if r.prefix != "" {
		name = r.prefix + "-" + nameOrURL
	}

	// Check local cache first
	r.mutex.RLock()
	if u, ok := r.urls[name]; ok {
		r.mutex.RUnlock()
		return u, name, nil
	}
	r.mutex.RUnlock()

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, queueURLCacheKeyPrefix+name)
		if err != nil {
			r.logger.Warn().Err(err).Str("queue", name).Msg("Failed to read queue URL cache")
		} else if cached != "" {
			r.remember(name, cached)
			return cached, name, nil
		}
	}

	result, err := r.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		return "", name, classify(fmt.Sprintf("failed to resolve queue %s", name), err)
	}

	queueURL := aws.ToString(result.QueueUrl)
	r.remember(name, queueURL)
	if r.cache != nil {
		if err := r.cache.Set(ctx, queueURLCacheKeyPrefix+name, queueURL, queueURLCacheTTL); err != nil {
			r.logger.Warn().Err(err).Str("queue", name).Msg("Failed to cache queue URL")
		}
	}
	return queueURL, name, nil
}

func (r *Resolver) remember(name, queueURL string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.urls[name] = queueURL
}

// forget drops a cached URL that turned out to be stale
func (r *Resolver) forget(ctx context.Context, name string) {
	r.mutex.Lock()
	delete(r.urls, name)
	r.mutex.Unlock()

	if r.cache != nil {
		_ = r.cache.Delete(ctx, queueURLCacheKeyPrefix+name)
	}
}

// ClearCache clears the local queue URL cache
func (r *Resolver) ClearCache() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.urls = make(map[string]string)
}

func nameFromURL(queueURL string) string {
	u, err := url.Parse(queueURL)
	if err != nil {
		return queueURL
	}
	return path.Base(u.Path)
}
