// Package sink hands received batches to the processing pipeline.
package sink

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
)

// Processor processes a single message. Implementations never return errors;
// failures are handled inside the processor.
type Processor interface {
	Process(ctx context.Context, msg *contracts.Message, pc *contracts.ProcessingContext)
}

// ProcessorFunc adapts a function to the Processor interface
type ProcessorFunc func(ctx context.Context, msg *contracts.Message, pc *contracts.ProcessingContext)

// Process calls f
func (f ProcessorFunc) Process(ctx context.Context, msg *contracts.Message, pc *contracts.ProcessingContext) {
	f(ctx, msg, pc)
}

// Sink delivers a batch to the processor. Emit returns once every message of
// the batch finished processing. Once ctx is cancelled the messages that have
// not started are completed on pc without reaching the processor.
type Sink interface {
	Emit(ctx context.Context, batch []*contracts.Message, pc *contracts.ProcessingContext)
}

// Ordered processes the messages of a batch one after another, in the order
// they were received.
type Ordered struct {
	processor Processor
}

// NewOrdered creates an ordered sink
func NewOrdered(processor Processor) *Ordered {
	return &Ordered{processor: processor}
}

// Emit processes the batch sequentially
func (s *Ordered) Emit(ctx context.Context, batch []*contracts.Message, pc *contracts.ProcessingContext) {
	for _, msg := range batch {
		if ctx.Err() != nil {
			pc.Complete(msg)
			continue
		}
		s.processor.Process(ctx, msg, pc)
	}
}

// Concurrent processes up to maxGoroutines messages of a batch in parallel
type Concurrent struct {
	processor     Processor
	maxGoroutines int
}

// NewConcurrent creates a concurrent sink. maxGoroutines below 1 means one
// goroutine per message.
func NewConcurrent(processor Processor, maxGoroutines int) *Concurrent {
	return &Concurrent{processor: processor, maxGoroutines: maxGoroutines}
}

// Emit processes the batch in parallel and waits for every message
func (s *Concurrent) Emit(ctx context.Context, batch []*contracts.Message, pc *contracts.ProcessingContext) {
	if len(batch) == 0 {
		return
	}

	limit := s.maxGoroutines
	if limit < 1 || limit > len(batch) {
		limit = len(batch)
	}

	p := pool.New().WithMaxGoroutines(limit)
	for _, msg := range batch {
		p.Go(func() {
			if ctx.Err() != nil {
				pc.Complete(msg)
				return
			}
			s.processor.Process(ctx, msg, pc)
		})
	}
	p.Wait()
}

var (
	_ Sink = (*Ordered)(nil)
	_ Sink = (*Concurrent)(nil)
)
