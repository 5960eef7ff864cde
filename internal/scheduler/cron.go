package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// Schedule keywords understood by the reduced grammar. Anything else
// falls back to one hour out; a full cron parser is future work.
const (
	ScheduleImmediate = "immediate"
	ScheduleDaily     = "daily"
	ScheduleHourly    = "hourly"
)

const dailyRunHourUTC = 2

// NextRun resolves a schedule expression to the next fire time after
// now. Supported forms: "immediate", "daily" (02:00 UTC), "hourly"
// (top of hour), "*/N * * * *" (N-minute boundary).
func NextRun(schedule string, now time.Time) time.Time {
	now = now.UTC()
	switch strings.TrimSpace(schedule) {
	case ScheduleImmediate:
		return now
	case ScheduleDaily:
		next := time.Date(now.Year(), now.Month(), now.Day(), dailyRunHourUTC, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		return next
	case ScheduleHourly:
		return now.Truncate(time.Hour).Add(time.Hour)
	}
	if n, ok := parseMinuteInterval(schedule); ok {
		interval := time.Duration(n) * time.Minute
		return now.Truncate(interval).Add(interval)
	}
	return now.Add(time.Hour)
}

// parseMinuteInterval recognizes the "*/N * * * *" form with N in
// [1, 59].
func parseMinuteInterval(schedule string) (int, bool) {
	fields := strings.Fields(schedule)
	if len(fields) != 5 {
		return 0, false
	}
	for _, f := range fields[1:] {
		if f != "*" {
			return 0, false
		}
	}
	if !strings.HasPrefix(fields[0], "*/") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(fields[0], "*/"))
	if err != nil || n < 1 || n > 59 {
		return 0, false
	}
	return n, true
}
