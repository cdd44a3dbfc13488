// Package anime holds the daily update listings fetched from video platforms
// and the actions that fetch them.
package anime

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Item is one title updated on a platform.
type Item struct {
	Title       string    `json:"title"`
	UpdateCount string    `json:"updateCount"`
	UpdateInfo  string    `json:"updateInfo"`
	ImageURL    string    `json:"imageUrl"`
	DetailURL   string    `json:"detailUrl"`
	UpdateTime  time.Time `json:"updateTime"`
	Platform    string    `json:"platform"`
}

// Schedule maps a weekday name to the items updated on that day.
type Schedule map[string][]Item

// Weekday returns the Schedule key for t.
func Weekday(t time.Time) string {
	return t.Weekday().String()
}

// Len counts the items across all days.
func (s Schedule) Len() int {
	var n int
	for _, items := range s {
		n += len(items)
	}

	return n
}

// Items flattens the schedule, ordered by day key. Every day is kept: the
// keys were chosen by the fetcher's clock, not the reader's.
func (s Schedule) Items() []Item {
	days := make([]string, 0, len(s))
	for day := range s {
		days = append(days, day)
	}
	sort.Strings(days)

	var items []Item
	for _, day := range days {
		items = append(items, s[day]...)
	}

	return items
}

// midnight is the start of the day of t, the UpdateTime of every item
// fetched on that day.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

var digits = regexp.MustCompile(`\d+`)

// firstNumber returns the first run of digits in s without leading zeros,
// or "" when s has none.
func firstNumber(s string) string {
	n, err := strconv.Atoi(digits.FindString(s))
	if err != nil {
		return ""
	}

	return strconv.Itoa(n)
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
