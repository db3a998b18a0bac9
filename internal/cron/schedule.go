package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Schedule is a parsed cron expression, optionally pinned to a timezone.
type Schedule struct {
	Expr     string
	Timezone string
}

// NewSchedule parses and validates a cron expression.
func NewSchedule(expr, timezone string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, fmt.Errorf("schedule expression is required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return Schedule{Expr: expr, Timezone: strings.TrimSpace(timezone)}, nil
}

// Next returns the next run time strictly after now.
func (s Schedule) Next(now time.Time) (time.Time, error) {
	loc := now.Location()
	if s.Timezone != "" {
		if tz, err := time.LoadLocation(s.Timezone); err == nil {
			loc = tz
		}
	}
	parsed, err := cronParser.Parse(s.Expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression: %w", err)
	}
	return parsed.Next(now.In(loc)), nil
}
