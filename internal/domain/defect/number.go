package defect

import (
	"fmt"
	"regexp"
	"time"
)

// Defect numbers are date-seeded: D<yyyymmdd>-<seq>, unique across the system.
// The per-day sequence is allocated by the repository under a row lock.

const numberDayFormat = "20060102"

var numberPattern = regexp.MustCompile(`^D(\d{8})-(\d{4})$`)

func FormatNumber(day time.Time, seq int) string {
	return fmt.Sprintf("D%s-%04d", day.UTC().Format(numberDayFormat), seq)
}

func CounterDay(day time.Time) string {
	return day.UTC().Format(numberDayFormat)
}

func ValidateNumber(number string) error {
	m := numberPattern.FindStringSubmatch(number)
	if m == nil {
		return fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	if _, err := time.Parse(numberDayFormat, m[1]); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	return nil
}
