package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoTasks = errors.New("scheduler: no tasks")
	ErrRunning = errors.New("scheduler: already running")
)

// DefaultMisfireGrace bounds how far back a firing that was due while the
// loop was busy is still honoured.
const DefaultMisfireGrace = time.Second

type Option func(*options)

type options struct {
	log     zerolog.Logger
	backoff BackoffFunc
	loc     *time.Location
	grace   time.Duration
	now     func() time.Time
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithBackoff(fn BackoffFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.backoff = fn
		}
	}
}

// WithLocation sets the zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

func WithMisfireGrace(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.grace = d
		}
	}
}

// Scheduler fires a fixed set of tasks on their cron schedules. Every task
// fires once when Run starts, then whenever its schedule is due.
type Scheduler[T any] struct {
	opts     options
	tasks    []*Task[T]
	inflight []atomic.Int32

	running atomic.Bool
	wg      sync.WaitGroup
}

func New[T any](tasks []*Task[T], opts ...Option) *Scheduler[T] {
	o := options{
		log:     log.With().Str("pkg", "scheduler").Logger(),
		backoff: FlatBackoff(DefaultRetryDelay),
		loc:     time.Local,
		grace:   DefaultMisfireGrace,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Scheduler[T]{
		opts:     o,
		tasks:    append([]*Task[T](nil), tasks...),
		inflight: make([]atomic.Int32, len(tasks)),
	}
}

func (s *Scheduler[T]) Tasks() []*Task[T] {
	return append([]*Task[T](nil), s.tasks...)
}

// Run fires every task once, then loops firing the earliest due task until
// ctx is done. Firings already started are not cancelled by ctx; use Wait to
// await them. Results are sent on results, which may be nil.
func (s *Scheduler[T]) Run(ctx context.Context, results chan<- Result[T]) error {
	if len(s.tasks) == 0 {
		return ErrNoTasks
	}

	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	if err := ctx.Err(); err != nil {
		return nil
	}

	logger := s.opts.log
	logger.Info().Int("tasks", len(s.tasks)).Str("tz", s.opts.loc.String()).Msg("scheduler started")

	start := s.opts.now()
	cursors := make([]time.Time, len(s.tasks))
	for i := range s.tasks {
		cursors[i] = start
		s.fire(ctx, i, results)
	}

	for {
		i, at, ok := s.earliest(cursors, s.opts.now())
		if !ok {
			logger.Warn().Msg("no task has a future firing, scheduler stopped")

			return nil
		}

		logger.Debug().
			Str("task", s.tasks[i].Name()).
			Time("next", at).
			Msg("waiting for next firing")

		timer := time.NewTimer(at.Sub(s.opts.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info().Msg("scheduler received shutdown")

			return nil
		case <-timer.C:
			cursors[i] = at
			s.fire(ctx, i, results)
		}
	}
}

// Wait blocks until every firing started by Run has finished, or ctx is done.
// Call it after Run returns.
func (s *Scheduler[T]) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for in-flight firings", ctx.Err())
	}
}

// earliest picks the task with the earliest next firing. Each task's search
// starts at its cursor, floored at now minus the misfire grace. Ties go to
// the lower task name, then to configuration order.
func (s *Scheduler[T]) earliest(cursors []time.Time, now time.Time) (int, time.Time, bool) {
	floor := now.Add(-s.opts.grace)

	idx := -1
	var at time.Time
	for i, task := range s.tasks {
		from := cursors[i]
		if from.Before(floor) {
			from = floor
		}

		next, ok := task.Next(from, s.opts.loc)
		if !ok {
			continue
		}

		if idx < 0 || next.Before(at) || (next.Equal(at) && task.Name() < s.tasks[idx].Name()) {
			idx, at = i, next
		}
	}

	return idx, at, idx >= 0
}

func (s *Scheduler[T]) fire(ctx context.Context, i int, results chan<- Result[T]) {
	task := s.tasks[i]

	s.wg.Add(1)
	s.inflight[i].Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inflight[i].Add(-1)

		s.execute(context.WithoutCancel(ctx), task, results)
	}()
}

// execute runs up to RetryTimes+1 attempts and sends exactly one result.
func (s *Scheduler[T]) execute(ctx context.Context, task *Task[T], results chan<- Result[T]) {
	res := Result[T]{
		ID:        uuid.New(),
		Name:      task.Name(),
		StartedAt: s.opts.now(),
	}

	logger := s.opts.log.With().
		Str("task", task.Name()).
		Str("firing", res.ID.String()).
		Logger()

	retries := int(task.RetryTimes())
	for attempt := 0; attempt <= retries; attempt++ {
		res.Attempts++

		payload, err := attemptAction(ctx, task)
		if err == nil {
			logger.Info().
				Int("attempt", attempt).
				Int("retry_times", retries).
				Msg("task succeeded")

			res.Status = Success
			res.Payload = &payload

			break
		}

		res.Status = Failed
		res.Err = err.Error()

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("retry_times", retries).
			Msg("task failed")

		if attempt < retries {
			time.Sleep(s.opts.backoff(attempt))
		}
	}

	res.FinishedAt = s.opts.now()
	if res.Status.IsFailed() {
		logger.Error().
			Str("error", res.Err).
			Int("attempts", res.Attempts).
			Msg("task retries exhausted")
	}

	if results != nil {
		results <- res
	}
}

func attemptAction[T any](ctx context.Context, task *Task[T]) (payload T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %q panicked: %v", task.Cmd(), r)
		}
	}()

	return task.action(ctx, task.Arg())
}

// Entry describes a task's schedule at a point in time.
type Entry struct {
	Name     string    `json:"name"`
	CronExpr string    `json:"cronExpr"`
	Cmd      string    `json:"cmd"`
	Resolved bool      `json:"resolved"`
	Next     time.Time `json:"next"`
	Left     string    `json:"left"`
	Running  int       `json:"running"`
}

// Entries lists every task ordered by next firing after now.
func (s *Scheduler[T]) Entries(now time.Time) []Entry {
	entries := make([]Entry, 0, len(s.tasks))
	for i, task := range s.tasks {
		e := Entry{
			Name:     task.Name(),
			CronExpr: task.CronExpr(),
			Cmd:      task.Cmd(),
			Resolved: task.Resolved(),
			Running:  int(s.inflight[i].Load()),
		}
		if next, ok := task.Next(now, s.opts.loc); ok {
			e.Next = next
			e.Left = next.Sub(now).Round(time.Second).String()
		}

		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Next.IsZero() != entries[j].Next.IsZero() {
			return !entries[i].Next.IsZero()
		}

		return entries[i].Next.Before(entries[j].Next)
	})

	return entries
}
