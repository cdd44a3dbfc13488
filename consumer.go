package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink persists the payload of a successful firing.
type Sink[T any] interface {
	Save(ctx context.Context, name string, payload T) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] func(ctx context.Context, name string, payload T) error

func (f SinkFunc[T]) Save(ctx context.Context, name string, payload T) error {
	return f(ctx, name, payload)
}

// Recorder keeps the history of firings, successful or not.
type Recorder[T any] interface {
	Record(ctx context.Context, res Result[T]) error
}

type ConsumerOption[T any] func(*Consumer[T])

func WithConsumerLogger[T any](l zerolog.Logger) ConsumerOption[T] {
	return func(c *Consumer[T]) { c.log = l }
}

func WithRecorder[T any](r Recorder[T]) ConsumerOption[T] {
	return func(c *Consumer[T]) { c.recorder = r }
}

// Consumer drains a result channel. Each successful payload is saved on its
// own goroutine so a slow write never delays draining.
type Consumer[T any] struct {
	sink     Sink[T]
	recorder Recorder[T]
	log      zerolog.Logger
	wg       sync.WaitGroup
}

func NewConsumer[T any](sink Sink[T], opts ...ConsumerOption[T]) *Consumer[T] {
	c := &Consumer[T]{
		sink: sink,
		log:  log.With().Str("pkg", "consumer").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run drains results in order until the channel is closed or ctx is done.
// Dispatches already started keep running; use Wait to await them.
func (c *Consumer[T]) Run(ctx context.Context, results <-chan Result[T]) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}

			c.dispatch(context.WithoutCancel(ctx), res)
		}
	}
}

// Wait blocks until every dispatch started by Run has finished, or ctx is
// done.
func (c *Consumer[T]) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for in-flight saves", ctx.Err())
	}
}

func (c *Consumer[T]) dispatch(ctx context.Context, res Result[T]) {
	logger := c.log.With().
		Str("task", res.Name).
		Str("firing", res.ID.String()).
		Logger()

	logger.WithLevel(res.Status.Level()).
		Str("status", res.Status.String()).
		Int("attempts", res.Attempts).
		Dur("took", res.Duration()).
		Str("error", res.Err).
		Msg("received task result")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if res.Status.IsSuccess() && res.Payload != nil && c.sink != nil {
			if err := c.sink.Save(ctx, res.Name, *res.Payload); err != nil {
				logger.Error().Err(err).Msg("failed to save task result")
			}
		}

		if c.recorder != nil {
			if err := c.recorder.Record(ctx, res); err != nil {
				logger.Error().Err(err).Msg("failed to record task run")
			}
		}
	}()
}
