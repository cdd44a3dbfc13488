package scheduler

// Job describes one recurring job as read from configuration.
type Job struct {
	Name     string
	CronExpr string
	// Cmd names the action to run, resolved against a Registry.
	Cmd string
	// Arg is passed verbatim to the action, usually a URL.
	Arg string
	// RetryTimes is the number of additional attempts after the first failure.
	RetryTimes uint8
}

func NewJob(name, cronExpr, cmd, arg string, retryTimes uint8) Job {
	return Job{
		Name:       name,
		CronExpr:   cronExpr,
		Cmd:        cmd,
		Arg:        arg,
		RetryTimes: retryTimes,
	}
}
