package services

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soaringjerry/Pulse/internal/calendar"
)

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

func utcNow() time.Time { return time.Now().UTC() }

// clock is the time source shared by the workflow services.
type clock struct {
	now func() time.Time
	loc *time.Location
}

func newClock() clock { return clock{now: utcNow, loc: time.UTC} }

// today returns the current calendar date in the configured zone.
func (c clock) today() calendar.Date {
	return calendar.In(c.now(), c.loc)
}

// orToday returns d, or today when d is zero.
func (c clock) orToday(d calendar.Date) calendar.Date {
	if d.IsZero() {
		return c.today()
	}
	return d
}
