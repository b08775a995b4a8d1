package task

import "time"

// Calendar answers trading-day checks for tasks with trading_day_only
// set. Weekends never trade; additional closed dates (exchange
// holidays) come from configuration as YYYY-MM-DD strings.
type Calendar struct {
	holidays map[string]struct{}
}

func NewCalendar(holidays []string) *Calendar {
	c := &Calendar{holidays: make(map[string]struct{}, len(holidays))}
	for _, d := range holidays {
		c.holidays[d] = struct{}{}
	}
	return c
}

func (c *Calendar) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if c == nil {
		return true
	}
	_, closed := c.holidays[t.Format("2006-01-02")]
	return !closed
}
