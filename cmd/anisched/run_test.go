package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	scheduler "github.com/alextanhongpin/ani-scheduler"
	"github.com/alextanhongpin/ani-scheduler/pkg/anime"
)

type waitFunc func(ctx context.Context) error

func (f waitFunc) Wait(ctx context.Context) error { return f(ctx) }

func TestDrainKeepsStoreOpenWhileFiringsRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	sched := waitFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	consumer := waitFunc(func(context.Context) error {
		t.Fatal("consumer waited while firings were running")
		return nil
	})

	results := scheduler.NewResultChannel[anime.Schedule](1)
	ok := drain(ctx, sched, consumer, results, make(chan struct{}), zerolog.Nop())
	assert.False(t, ok)

	// The channel stays open for late firings.
	results <- scheduler.Result[anime.Schedule]{}
}

func TestDrainClosesResults(t *testing.T) {
	idle := waitFunc(func(context.Context) error { return nil })

	results := scheduler.NewResultChannel[anime.Schedule](1)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range results {
		}
	}()

	ok := drain(context.Background(), idle, idle, results, drained, zerolog.Nop())
	assert.True(t, ok)

	_, open := <-results
	assert.False(t, open)
}

func TestNewRegistryCommands(t *testing.T) {
	reg, err := newRegistry()
	assert.NoError(t, err)
	assert.Contains(t, reg.Commands(), anime.CmdBilibili)
}
