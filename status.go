package scheduler

import "github.com/rs/zerolog"

// Status is the terminal outcome of one firing.
type Status string

const (
	Success Status = "SUCCESS"
	Failed  Status = "FAILED"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	switch s {
	case
		Success,
		Failed:
		return true
	default:
		return false
	}
}

func (s Status) IsFailed() bool {
	return s == Failed
}

func (s Status) IsSuccess() bool {
	return s == Success
}

// Level is the log level a result with this status is reported at.
func (s Status) Level() zerolog.Level {
	if s.IsSuccess() {
		return zerolog.InfoLevel
	}

	return zerolog.WarnLevel
}
