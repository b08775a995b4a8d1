package task

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions
// (minute hour day-of-month month day-of-week).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NextRun computes the first fire time of expr strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// CronValidation is the result of checking a user-supplied expression.
type CronValidation struct {
	Valid       bool       `json:"valid"`
	Description string     `json:"description,omitempty"`
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ValidateCron checks expr and, when valid, reports a human-readable
// description and the next fire time relative to now.
func ValidateCron(expr string, now time.Time) CronValidation {
	next, err := NextRun(expr, now)
	if err != nil {
		return CronValidation{Error: err.Error()}
	}
	return CronValidation{
		Valid:       true,
		Description: describeCron(expr),
		NextRunTime: &next,
	}
}

// describeCron gives a rough English reading of the common expression
// shapes; anything more exotic just echoes the fields.
func describeCron(expr string) string {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return expr
	}
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	if minute == "*" && hour == "*" && dom == "*" && month == "*" && dow == "*" {
		return "every minute"
	}
	if strings.HasPrefix(minute, "*/") && hour == "*" && dom == "*" && month == "*" && dow == "*" {
		return fmt.Sprintf("every %s minutes", minute[2:])
	}
	if h, m, ok := clockTime(hour, minute); ok && dom == "*" && month == "*" {
		at := fmt.Sprintf("%02d:%02d", h, m)
		switch dow {
		case "*":
			return fmt.Sprintf("daily at %s", at)
		case "1-5":
			return fmt.Sprintf("weekdays at %s", at)
		default:
			return fmt.Sprintf("at %s on days-of-week %s", at, dow)
		}
	}
	if h, m, ok := clockTime(hour, minute); ok && month == "*" && dow == "*" {
		if _, err := strconv.Atoi(dom); err == nil {
			return fmt.Sprintf("monthly on day %s at %02d:%02d", dom, h, m)
		}
	}
	return expr
}

func clockTime(hour, minute string) (int, int, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil {
		return 0, 0, false
	}
	m, err := strconv.Atoi(minute)
	if err != nil {
		return 0, 0, false
	}
	return h, m, true
}
