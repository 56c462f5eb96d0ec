package budget

import (
	"strings"
	"time"
)

// =============================================================================
// MONTH - calendar month label ("YYYY-MM")
// =============================================================================

// Month is a calendar month. The zero value means "unknown".
type Month struct {
	Year  int
	Month time.Month
}

const monthLayout = "2006-01"

// NewMonth normalizes out-of-range months (e.g. month 13 rolls the year).
func NewMonth(year int, month time.Month) Month {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Month{Year: t.Year(), Month: t.Month()}
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses a strict "YYYY-MM" label.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(monthLayout, strings.TrimSpace(s))
	if err != nil {
		return Month{}, &MonthParseError{Input: s}
	}
	return MonthOf(t), nil
}

// MustParseMonth panics on malformed input. Use in tests and fixtures.
func MustParseMonth(s string) Month {
	m, err := ParseMonth(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Month) IsZero() bool { return m.Year == 0 && m.Month == 0 }

func (m Month) Time() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (m Month) String() string {
	if m.IsZero() {
		return ""
	}
	return m.Time().Format(monthLayout)
}

// Add advances n months, rolling the year as needed.
func (m Month) Add(n int) Month { return NewMonth(m.Year, m.Month+time.Month(n)) }

func (m Month) Before(other Month) bool { return m.index() < other.index() }
func (m Month) After(other Month) bool  { return m.index() > other.index() }
func (m Month) Equal(other Month) bool  { return m.index() == other.index() }

// Offset returns the 1-based position of m in a window starting at ref.
// Months before ref give values < 1.
func (m Month) Offset(ref Month) int {
	return m.index() - ref.index() + 1
}

func (m Month) index() int { return m.Year*12 + int(m.Month) - 1 }

// Sequence returns n consecutive months starting at m.
func (m Month) Sequence(n int) []Month {
	if n < 1 {
		return nil
	}
	months := make([]Month, n)
	for i := range months {
		months[i] = m.Add(i)
	}
	return months
}

func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Month) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*m = Month{}
		return nil
	}
	parsed, err := ParseMonth(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
