// Package cron evaluates job schedules and runs due jobs on a fixed
// poll interval.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/reclaw/reclaw/internal/domain"
)

// searchWindow bounds the forward search for the next cron occurrence.
const searchWindow = 7 * 24 * time.Hour

// NextRun computes the next fire time in unix ms for a schedule
// evaluated at fromMs. A nil result means the schedule has no next
// fire (kind=once, or kind=at in the past).
func NextRun(schedule domain.CronSchedule, fromMs int64) (*int64, error) {
	switch schedule.Kind {
	case "once":
		return nil, nil
	case "at":
		if strings.TrimSpace(schedule.At) == "" {
			return nil, fmt.Errorf("schedule.at is required for kind=at")
		}
		at, err := time.Parse(time.RFC3339, schedule.At)
		if err != nil {
			return nil, fmt.Errorf("schedule.at must be an RFC3339 timestamp")
		}
		atMs := at.UnixMilli()
		if atMs < 0 {
			return nil, fmt.Errorf("schedule.at timestamp must be >= unix epoch")
		}
		if atMs > fromMs {
			return &atMs, nil
		}
		return nil, nil
	case "every":
		return nextEvery(schedule, fromMs)
	case "cron":
		return nextCron(schedule.Expr, fromMs)
	default:
		return nil, fmt.Errorf("unsupported schedule kind: %s", schedule.Kind)
	}
}

func nextEvery(schedule domain.CronSchedule, fromMs int64) (*int64, error) {
	every := schedule.EveryMs
	if every <= 0 {
		return nil, fmt.Errorf("schedule.everyMs must be > 0")
	}
	if schedule.AnchorMs == nil {
		next := fromMs + every
		return &next, nil
	}
	anchor := *schedule.AnchorMs
	if fromMs < anchor {
		return &anchor, nil
	}
	// Smallest anchor-aligned multiple of every strictly after fromMs.
	next := anchor + ((fromMs-anchor)/every)*every + every
	return &next, nil
}

// nextCron handles the restricted grammar: 5 or 6 whitespace-separated
// fields (a leading seconds field is ignored), where only the minute
// field may differ from `*`, and only as `*`, `*/N` (1..59), or an
// exact value 0..59.
func nextCron(expr string, fromMs int64) (*int64, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 && len(fields) != 6 {
		return nil, fmt.Errorf("cron expression must contain 5 or 6 fields")
	}
	if len(fields) == 6 {
		fields = fields[1:]
	}
	for _, field := range fields[1:] {
		if field != "*" {
			return nil, fmt.Errorf("only minute-based cron expressions are supported currently")
		}
	}
	if err := validateMinuteField(fields[0]); err != nil {
		return nil, err
	}

	parser := robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow)
	parsed, err := parser.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %v", err)
	}

	from := time.UnixMilli(fromMs)
	next := parsed.Next(from)
	if next.IsZero() || next.Sub(from) > searchWindow {
		return nil, fmt.Errorf("unable to compute next cron occurrence in 7-day search window")
	}
	nextMs := next.Truncate(time.Minute).UnixMilli()
	return &nextMs, nil
}

func validateMinuteField(field string) error {
	if field == "*" {
		return nil
	}
	if step, ok := strings.CutPrefix(field, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n < 1 || n > 59 {
			return fmt.Errorf("minute step must be between 1 and 59")
		}
		return nil
	}
	n, err := strconv.Atoi(field)
	if err != nil || n < 0 || n > 59 {
		return fmt.Errorf("minute value must be between 0 and 59")
	}
	return nil
}
