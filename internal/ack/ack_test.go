package ack

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
	sqsdriver "github.com/our-edu/go-sqs-listener/internal/drivers/sqs"
	"github.com/our-edu/go-sqs-listener/internal/sqstest"
)

func setup(t *testing.T, count int) (*sqstest.API, *sqsdriver.Client, contracts.Queue, []*contracts.Message) {
	t.Helper()

	fake := sqstest.New()
	url := fake.CreateQueue("orders", time.Minute)
	for i := 0; i < count; i++ {
		fake.Enqueue(url, fmt.Sprintf("m-%02d", i))
	}

	client := sqsdriver.NewClient(fake, zerolog.Nop())
	queue := contracts.Queue{Name: "orders", URL: url}

	var msgs []*contracts.Message
	for len(msgs) < count {
		batch, err := client.Receive(context.Background(), queue, 10, 0, 0)
		require.NoError(t, err)
		require.NotEmpty(t, batch)
		msgs = append(msgs, batch...)
	}
	return fake, client, queue, msgs
}

func TestSync_DeletesImmediately(t *testing.T) {
	fake, client, queue, msgs := setup(t, 2)
	acker := NewSync(client, queue, nil, zerolog.Nop())

	require.NoError(t, acker.Ack(context.Background(), msgs[0]))

	assert.Equal(t, []string{"m-00"}, fake.Deleted(queue.URL))
	assert.Equal(t, 1, fake.Remaining(queue.URL))
}

func TestCallback_FirstAcknowledgementWins(t *testing.T) {
	fake, client, queue, msgs := setup(t, 1)
	cb := NewCallback(NewSync(client, queue, nil, zerolog.Nop()), msgs[0])

	assert.False(t, cb.IsAcknowledged())
	require.NoError(t, cb.Acknowledge(context.Background()))
	require.NoError(t, cb.Acknowledge(context.Background()))

	assert.True(t, cb.IsAcknowledged())
	assert.Equal(t, 1, fake.Stats().Deletes)
}

func TestCallback_FailedDeleteDoesNotLatch(t *testing.T) {
	fake, client, queue, msgs := setup(t, 1)
	failures := 1
	fake.DeleteErr = func(string) error {
		if failures > 0 {
			failures--
			return errors.New("connection reset")
		}
		return nil
	}

	cb := NewCallback(NewSync(client, queue, nil, zerolog.Nop()), msgs[0])

	err := cb.Acknowledge(context.Background())
	require.Error(t, err)
	assert.True(t, contracts.IsTransientError(err))
	assert.False(t, cb.IsAcknowledged())

	require.NoError(t, cb.Acknowledge(context.Background()))
	assert.True(t, cb.IsAcknowledged())
	assert.Equal(t, []string{"m-00"}, fake.Deleted(queue.URL))
}

func TestAsync_FlushesFullBatchesAndDrainsOnClose(t *testing.T) {
	fake, client, queue, msgs := setup(t, 12)
	acker := NewAsync(client, queue, 5, time.Hour, nil, zerolog.Nop())
	acker.Start()

	for _, m := range msgs {
		require.NoError(t, acker.Ack(context.Background(), m))
	}

	require.NoError(t, acker.Close(context.Background()))

	batches := fake.Stats().DeleteBatches
	sort.Sort(sort.Reverse(sort.IntSlice(batches)))
	assert.Equal(t, []int{5, 5, 2}, batches)
	assert.Equal(t, 0, acker.Pending())
	assert.Len(t, fake.Deleted(queue.URL), 12)
	assert.Equal(t, 0, fake.Remaining(queue.URL))
}

func TestAsync_IntervalFlush(t *testing.T) {
	fake, client, queue, msgs := setup(t, 3)
	acker := NewAsync(client, queue, 10, 20*time.Millisecond, nil, zerolog.Nop())
	acker.Start()
	defer acker.Close(context.Background())

	for _, m := range msgs {
		require.NoError(t, acker.Ack(context.Background(), m))
	}

	assert.Eventually(t, func() bool {
		return len(fake.Deleted(queue.URL)) == 3
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, acker.Pending())
}

func TestAsync_DeduplicatesReceiptHandles(t *testing.T) {
	fake, client, queue, msgs := setup(t, 1)
	acker := NewAsync(client, queue, 10, time.Hour, nil, zerolog.Nop())

	require.NoError(t, acker.Ack(context.Background(), msgs[0]))
	require.NoError(t, acker.Ack(context.Background(), msgs[0]))
	assert.Equal(t, 1, acker.Pending())

	require.NoError(t, acker.Close(context.Background()))
	assert.Equal(t, []int{1}, fake.Stats().DeleteBatches)
}

func TestAsync_AckAfterCloseDeletesImmediately(t *testing.T) {
	fake, client, queue, msgs := setup(t, 1)
	acker := NewAsync(client, queue, 10, time.Hour, nil, zerolog.Nop())
	acker.Start()
	require.NoError(t, acker.Close(context.Background()))

	require.NoError(t, acker.Ack(context.Background(), msgs[0]))

	assert.Equal(t, 1, fake.Stats().Deletes)
	assert.Empty(t, fake.Stats().DeleteBatches)
	assert.Equal(t, []string{"m-00"}, fake.Deleted(queue.URL))
}

func TestAsync_ClampsBatchSize(t *testing.T) {
	_, client, queue, _ := setup(t, 0)

	assert.Equal(t, 10, NewAsync(client, queue, 50, time.Second, nil, zerolog.Nop()).batchSize)
	assert.Equal(t, 1, NewAsync(client, queue, 0, time.Second, nil, zerolog.Nop()).batchSize)
}
