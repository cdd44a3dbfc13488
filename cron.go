package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidCron = errors.New("scheduler: invalid cron expression")

const (
	minYear = 1970
	maxYear = 2099
)

// parser accepts seconds-resolution specs: sec min hour dom month dow.
// The optional seventh year field is handled by yearSchedule.
var parser = cron.NewParser(
	cron.Second |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseCron parses a 6 or 7 field cron expression, or a descriptor such as
// "@hourly" or "@every 10s". A "TZ=" or "CRON_TZ=" prefix is honoured.
func ParseCron(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCron)
	}

	var tz string
	if strings.HasPrefix(fields[0], "TZ=") || strings.HasPrefix(fields[0], "CRON_TZ=") {
		tz, fields = fields[0], fields[1:]
	}

	if len(fields) > 0 && strings.HasPrefix(fields[0], "@") {
		sched, err := parser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
		}

		return sched, nil
	}

	var years *yearSet
	switch len(fields) {
	case 6:
	case 7:
		ys, err := parseYears(fields[6])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
		}
		years = ys
		fields = fields[:6]
	default:
		return nil, fmt.Errorf("%w: %q: expected 6 or 7 fields, found %d", ErrInvalidCron, expr, len(fields))
	}

	spec := strings.Join(fields, " ")
	if tz != "" {
		spec = tz + " " + spec
	}

	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}

	if years == nil {
		return sched, nil
	}

	return &yearSchedule{inner: sched, years: years}, nil
}

// NextFire returns the next instant strictly after now matching expr,
// computed in loc. ok is false when the schedule has no future occurrence.
func NextFire(expr string, now time.Time, loc *time.Location) (next time.Time, ok bool, err error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, false, err
	}

	next, ok = nextIn(sched, now, loc)

	return next, ok, nil
}

func nextIn(sched cron.Schedule, now time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}

	next := sched.Next(now.In(loc))
	if next.IsZero() {
		return time.Time{}, false
	}

	return next, true
}

// yearSet holds the years allowed by the seventh cron field.
type yearSet struct {
	allowed [maxYear - minYear + 1]bool
}

func (y *yearSet) has(year int) bool {
	if year < minYear || year > maxYear {
		return false
	}

	return y.allowed[year-minYear]
}

// after returns the first allowed year strictly greater than year.
func (y *yearSet) after(year int) (int, bool) {
	for n := max(year+1, minYear); n <= maxYear; n++ {
		if y.allowed[n-minYear] {
			return n, true
		}
	}

	return 0, false
}

func parseYears(field string) (*yearSet, error) {
	var ys yearSet

	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return nil, errors.New("empty year term")
		}

		rng, step := part, 1
		if i := strings.IndexByte(part, '/'); i >= 0 {
			n, err := strconv.Atoi(part[i+1:])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("bad year step %q", part)
			}
			rng, step = part[:i], n
		}

		lo, hi := minYear, maxYear
		switch {
		case rng == "*" || rng == "?":
		case strings.Contains(rng, "-"):
			bounds := strings.SplitN(rng, "-", 2)
			a, err := parseYear(bounds[0])
			if err != nil {
				return nil, err
			}
			b, err := parseYear(bounds[1])
			if err != nil {
				return nil, err
			}
			if a > b {
				return nil, fmt.Errorf("year range %q is reversed", rng)
			}
			lo, hi = a, b
		default:
			a, err := parseYear(rng)
			if err != nil {
				return nil, err
			}
			lo = a
			if step == 1 {
				hi = a
			}
		}

		for n := lo; n <= hi; n += step {
			ys.allowed[n-minYear] = true
		}
	}

	return &ys, nil
}

func parseYear(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad year %q", s)
	}
	if n < minYear || n > maxYear {
		return 0, fmt.Errorf("year %d out of range [%d, %d]", n, minYear, maxYear)
	}

	return n, nil
}

// yearSchedule restricts an inner schedule to a set of years.
type yearSchedule struct {
	inner cron.Schedule
	years *yearSet
}

func (s *yearSchedule) Next(t time.Time) time.Time {
	for {
		next := s.inner.Next(t)
		if next.IsZero() {
			return time.Time{}
		}

		if s.years.has(next.Year()) {
			return next
		}

		year, ok := s.years.after(next.Year())
		if !ok {
			return time.Time{}
		}

		// Resume one second before the allowed year starts; inner.Next is
		// strictly after its argument.
		t = time.Date(year, time.January, 1, 0, 0, 0, 0, next.Location()).Add(-time.Second)
	}
}
