package scheduler

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	reg := NewRegistry[string]()
	reg.MustRegister("echo", echo)

	job := NewJob("bilibili", "0 30 8 * * * *", "echo", "https://example.com", 3)

	task, err := NewTask(job, reg)
	require.NoError(t, err)

	assert.Equal(t, "bilibili", task.Name())
	assert.Equal(t, "0 30 8 * * * *", task.CronExpr())
	assert.Equal(t, "echo", task.Cmd())
	assert.Equal(t, "https://example.com", task.Arg())
	assert.Equal(t, uint8(3), task.RetryTimes())
	assert.True(t, task.Resolved())
	assert.Empty(t, cmp.Diff(job, task.Job()))

	now := time.Date(2024, time.March, 10, 8, 0, 0, 0, time.UTC)
	next, ok := task.Next(now, time.UTC)
	require.True(t, ok)
	assert.True(t, now.Add(30*time.Minute).Equal(next))
}

func TestNewTaskUnknownCmd(t *testing.T) {
	task, err := NewTask(NewJob("a", "@hourly", "missing", "", 0), NewRegistry[string]())
	require.NoError(t, err)
	assert.False(t, task.Resolved())
}

func TestBuildTasks(t *testing.T) {
	reg := NewRegistry[string]()
	reg.MustRegister("echo", echo)

	jobs := []Job{
		NewJob("a", "0 0 * * * *", "echo", "1", 0),
		NewJob("b", "bad cron", "echo", "2", 0),
		NewJob("c", "0 0 0 * * * 2030", "missing", "3", 1),
	}

	tasks, err := BuildTasks(jobs, reg)
	assert.ErrorIs(t, err, ErrInvalidCron)
	assert.Contains(t, err.Error(), `task "b"`)

	names := make([]string, len(tasks))
	for i, task := range tasks {
		names[i] = task.Name()
	}
	assert.Equal(t, []string{"a", "c"}, names)

	tasks, err = BuildTasks(jobs[:1], reg)
	assert.NoError(t, err)
	assert.Len(t, tasks, 1)
}
