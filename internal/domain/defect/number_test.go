package defect

import (
	"errors"
	"testing"
	"time"
)

func TestFormatNumber(t *testing.T) {
	day := time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)

	if got := FormatNumber(day, 1); got != "D20260307-0001" {
		t.Fatalf("FormatNumber() = %q, want D20260307-0001", got)
	}
	if got := FormatNumber(day, 42); got != "D20260307-0042" {
		t.Fatalf("FormatNumber() = %q, want D20260307-0042", got)
	}

	// Local time east of UTC would already be on the next day; the number
	// still keys the UTC date.
	east := time.Date(2026, 3, 8, 1, 30, 0, 0, time.FixedZone("east", 8*3600))
	if got := FormatNumber(east, 7); got != "D20260307-0007" {
		t.Fatalf("FormatNumber(east) = %q, want D20260307-0007", got)
	}
}

func TestCounterDay(t *testing.T) {
	day := time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC)
	if got := CounterDay(day); got != "20261231" {
		t.Fatalf("CounterDay() = %q, want 20261231", got)
	}
}

func TestValidateNumber(t *testing.T) {
	valid := []string{"D20260307-0001", "D20231201-9999"}
	for _, n := range valid {
		if err := ValidateNumber(n); err != nil {
			t.Fatalf("ValidateNumber(%q) error = %v", n, err)
		}
	}

	invalid := []string{
		"",
		"20260307-0001",
		"D2026037-0001",
		"D20260307-001",
		"D20260307_0001",
		"D20261399-0001",
		"X20260307-0001",
	}
	for _, n := range invalid {
		if err := ValidateNumber(n); !errors.Is(err, ErrInvalidNumber) {
			t.Fatalf("ValidateNumber(%q) error = %v, want ErrInvalidNumber", n, err)
		}
	}
}
