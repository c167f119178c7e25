// Package queue serializes jobs and drops duplicates. A development session
// can produce rebuild requests faster than images build; keeping at most one
// queued job per key means a burst of saves costs one rebuild, not ten.
package queue

import (
	"context"
	"log/slog"
	"sync"
)

type Processor[T any] struct {
	logger  *slog.Logger
	keyOf   func(T) string
	process func(ctx context.Context, job T)

	mu      sync.Mutex
	pending []T
	queued  map[string]bool
	wake    chan struct{}
}

func New[T any](logger *slog.Logger, keyOf func(T) string, process func(ctx context.Context, job T)) *Processor[T] {
	return &Processor[T]{
		logger:  logger,
		keyOf:   keyOf,
		process: process,
		queued:  map[string]bool{},
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue adds a job unless one with the same key is already waiting.
// Reports whether the job was accepted. A job whose key is currently being
// processed is accepted again: it arrived after processing began, so its
// work is not covered.
func (p *Processor[T]) Enqueue(job T) bool {
	key := p.keyOf(job)

	p.mu.Lock()
	if p.queued[key] {
		p.mu.Unlock()
		p.logger.Debug("Job already queued", "key", key)
		return false
	}
	p.queued[key] = true
	p.pending = append(p.pending, job)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

func (p *Processor[T]) pop() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero T
	if len(p.pending) == 0 {
		return zero, false
	}
	job := p.pending[0]
	p.pending = p.pending[1:]
	delete(p.queued, p.keyOf(job))
	return job, true
}

// Run processes jobs one at a time until the context ends.
func (p *Processor[T]) Run(ctx context.Context) error {
	for {
		job, ok := p.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.process(ctx, job)
	}
}
