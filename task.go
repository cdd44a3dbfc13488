package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a Job bound to its resolved action. It is immutable once built and
// safe to share between concurrent firings.
type Task[T any] struct {
	job      Job
	action   Action[T]
	schedule cron.Schedule
	resolved bool
}

// NewTask validates the job's cron expression and binds its action. Unknown
// commands resolve to the registry fallback.
func NewTask[T any](job Job, registry *Registry[T]) (*Task[T], error) {
	sched, err := ParseCron(job.CronExpr)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", job.Name, err)
	}

	_, resolved := registry.Lookup(job.Cmd)

	return &Task[T]{
		job:      job,
		action:   registry.Resolve(job.Cmd),
		schedule: sched,
		resolved: resolved,
	}, nil
}

// BuildTasks builds a task for every job. Jobs with a malformed cron
// expression are left out and reported in the joined error; the valid tasks
// are still returned.
func BuildTasks[T any](jobs []Job, registry *Registry[T]) ([]*Task[T], error) {
	tasks := make([]*Task[T], 0, len(jobs))

	var errs []error
	for _, job := range jobs {
		task, err := NewTask(job, registry)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		tasks = append(tasks, task)
	}

	return tasks, errors.Join(errs...)
}

func (t *Task[T]) Name() string      { return t.job.Name }
func (t *Task[T]) CronExpr() string  { return t.job.CronExpr }
func (t *Task[T]) Cmd() string       { return t.job.Cmd }
func (t *Task[T]) Arg() string       { return t.job.Arg }
func (t *Task[T]) RetryTimes() uint8 { return t.job.RetryTimes }

// Job returns the descriptor the task was built from.
func (t *Task[T]) Job() Job { return t.job }

// Resolved reports whether the command was found in the registry.
func (t *Task[T]) Resolved() bool { return t.resolved }

// Next returns the first firing strictly after now, computed in loc.
func (t *Task[T]) Next(now time.Time, loc *time.Location) (time.Time, bool) {
	return nextIn(t.schedule, now, loc)
}
