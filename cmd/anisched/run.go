package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	scheduler "github.com/alextanhongpin/ani-scheduler"
	"github.com/alextanhongpin/ani-scheduler/pkg/anime"
	"github.com/alextanhongpin/ani-scheduler/pkg/config"
	"github.com/alextanhongpin/ani-scheduler/pkg/logger"
	"github.com/alextanhongpin/ani-scheduler/pkg/server"
	"github.com/alextanhongpin/ani-scheduler/pkg/store"
)

const drainTimeout = 30 * time.Second

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			l, closer := logger.New(logger.Config{
				Level:   cfg.Log.Level,
				Console: cfg.Log.Console,
				File:    cfg.Log.File,
			})
			defer closer.Close()

			return run(cmd.Context(), cfg, l)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, l zerolog.Logger) error {
	tasks, err := buildTasks(cfg)
	if err != nil {
		// Invalid tasks are excluded; the rest still run.
		l.Error().Err(err).Msg("excluded tasks with invalid configuration")
	}
	for _, task := range tasks {
		if !task.Resolved() {
			l.Warn().Str("task", task.Name()).Str("cmd", task.Cmd()).Msg("unknown command, task will always fail")
		}
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}

	// Left open when firings outlive the drain timeout; they may still save.
	closeStore := true
	defer func() {
		if closeStore {
			_ = st.Close()
		}
	}()

	sched := scheduler.New(tasks,
		scheduler.WithLogger(l.With().Str("pkg", "scheduler").Logger()),
		scheduler.WithLocation(loc),
		scheduler.WithBackoff(cfg.Scheduler.Backoff()),
		scheduler.WithMisfireGrace(cfg.Scheduler.MisfireGrace),
	)

	results := scheduler.NewResultChannel[anime.Schedule](cfg.Scheduler.ResultBuffer)
	consumer := scheduler.NewConsumer[anime.Schedule](st,
		scheduler.WithRecorder[anime.Schedule](st),
		scheduler.WithConsumerLogger[anime.Schedule](l.With().Str("pkg", "consumer").Logger()),
	)

	drained := make(chan struct{})
	go func() {
		defer close(drained)

		// Keep draining after shutdown until the channel is closed.
		consumer.Run(context.WithoutCancel(ctx), results)
	}()

	if cfg.Server.Port > 0 {
		go func() {
			if err := server.Serve(ctx, server.NewHandler(sched, st), cfg.Server.Port); err != nil {
				l.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	if err := sched.Run(ctx, results); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	closeStore = drain(waitCtx, sched, consumer, results, drained, l)

	return nil
}

type waiter interface {
	Wait(ctx context.Context) error
}

// drain reports whether every firing finished, so the store may be closed.
func drain(ctx context.Context, sched, consumer waiter, results chan scheduler.Result[anime.Schedule], drained <-chan struct{}, l zerolog.Logger) bool {
	if err := sched.Wait(ctx); err != nil {
		// Firings still running may send on results; leave it and the store
		// open. Whatever they produce after the process exits is lost.
		l.Warn().Err(err).Msg("shutdown before all firings finished, their results will be lost")

		return false
	}

	close(results)
	<-drained

	if err := consumer.Wait(ctx); err != nil {
		l.Warn().Err(err).Msg("shutdown before all results were saved")
	}

	l.Info().Msg("scheduler stopped")

	return true
}

func buildTasks(cfg *config.Config) ([]*scheduler.Task[anime.Schedule], error) {
	jobs, err := cfg.Jobs(config.AnimeSource)
	if err != nil {
		return nil, err
	}

	reg, err := newRegistry()
	if err != nil {
		return nil, err
	}

	return scheduler.BuildTasks(jobs, reg)
}

func newRegistry() (*scheduler.Registry[anime.Schedule], error) {
	reg := scheduler.NewRegistry[anime.Schedule]()
	if err := anime.NewClient().Register(reg); err != nil {
		return nil, err
	}

	return reg, nil
}
