package domain

import (
	"fmt"
	"strings"
	"time"
)

// UrgentWindow is how close to the deadline a pending request is flagged urgent.
const UrgentWindow = 10 * time.Minute

// Countdown breaks the time left before a deadline into display units.
type Countdown struct {
	Days      int
	Hours     int
	Minutes   int
	Seconds   int
	Remaining time.Duration
	Expired   bool
	Urgent    bool
}

// CountdownUntil computes the countdown from now to deadline.
func CountdownUntil(deadline, now time.Time) Countdown {
	left := deadline.Sub(now)
	if left <= 0 {
		return Countdown{Expired: true}
	}
	total := int(left / time.Second)
	return Countdown{
		Days:      total / 86400,
		Hours:     (total % 86400) / 3600,
		Minutes:   (total % 3600) / 60,
		Seconds:   total % 60,
		Remaining: left,
		Urgent:    left < UrgentWindow,
	}
}

// String renders the countdown as "1d 2h 3m 4s", dropping leading zero units.
func (c Countdown) String() string {
	if c.Expired {
		return "deadline passed"
	}
	parts := make([]string, 0, 4)
	if c.Days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", c.Days))
	}
	if c.Days > 0 || c.Hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", c.Hours))
	}
	if c.Days > 0 || c.Hours > 0 || c.Minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", c.Minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", c.Seconds))
	return strings.Join(parts, " ")
}
