package quarter

import (
	"fmt"
	"time"
)

// YearQuarter identifies one civil quarter.
type YearQuarter struct {
	Quarter int `json:"quarter"` // 1..4
	Year    int `json:"year"`
}

func (q YearQuarter) String() string {
	return fmt.Sprintf("Q%d/%d", q.Quarter, q.Year)
}

// Next returns the quarter immediately after q.
func (q YearQuarter) Next() YearQuarter {
	if q.Quarter == 4 {
		return YearQuarter{Quarter: 1, Year: q.Year + 1}
	}
	return YearQuarter{Quarter: q.Quarter + 1, Year: q.Year}
}

// Months returns the three month numbers of the quarter.
func (q YearQuarter) Months() [3]int {
	first := (q.Quarter-1)*3 + 1
	return [3]int{first, first + 1, first + 2}
}

// Calendar evaluates all boundary arithmetic in one fixed civil timezone.
// Generation must never retroactively create a quarter that has already
// effectively begun, so boundary-day detection is a first-class primitive
// here rather than an inline conditional at the call sites.
type Calendar struct {
	loc *time.Location
}

// NewCalendar creates a Calendar for the given civil timezone.
func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{loc: loc}
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Of returns the quarter containing t.
func (c *Calendar) Of(t time.Time) YearQuarter {
	t = t.In(c.loc)
	return YearQuarter{Quarter: (int(t.Month())-1)/3 + 1, Year: t.Year()}
}

// IsLastDayOfMonth reports whether t falls on the civil last day of its month.
func (c *Calendar) IsLastDayOfMonth(t time.Time) bool {
	t = t.In(c.loc)
	return t.AddDate(0, 0, 1).Month() != t.Month()
}

// IsLastDayOfQuarter reports whether t is the civil last day of
// March, June, September or December.
func (c *Calendar) IsLastDayOfQuarter(t time.Time) bool {
	t = t.In(c.loc)
	if !c.IsLastDayOfMonth(t) {
		return false
	}
	switch t.Month() {
	case time.March, time.June, time.September, time.December:
		return true
	}
	return false
}

// NextSchedulable returns the quarter that generation should target from t.
// On a quarter's last day the current quarter is skipped: a quarter that
// would start "today" is never generated retroactively.
func (c *Calendar) NextSchedulable(t time.Time) YearQuarter {
	cur := c.Of(t)
	if c.IsLastDayOfQuarter(t) {
		return cur.Next()
	}
	return cur
}

// QuarterRange returns the inclusive [start, end] of the quarter at civil
// midnight and end-of-day.
func (c *Calendar) QuarterRange(q YearQuarter) (time.Time, time.Time) {
	firstMonth := time.Month((q.Quarter-1)*3 + 1)
	start := time.Date(q.Year, firstMonth, 1, 0, 0, 0, 0, c.loc)
	end := start.AddDate(0, 3, 0).Add(-time.Second)
	return start, end
}

// MonthRange returns the inclusive [start, end] of the month at civil
// midnight and end-of-day.
func (c *Calendar) MonthRange(month, year int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, c.loc)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end
}

// StartOfDay truncates t to civil midnight.
func (c *Calendar) StartOfDay(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// Tomorrow returns civil midnight of the day after t.
func (c *Calendar) Tomorrow(t time.Time) time.Time {
	return c.StartOfDay(t).AddDate(0, 0, 1)
}
