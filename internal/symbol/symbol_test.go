package symbol

import (
	"errors"
	"testing"
)

func TestNormalize_Valid(t *testing.T) {
	tests := map[string]string{
		"AAPL":     "AAPL",
		"  msft ":  "MSFT",
		"brk.b":    "BRK.B",
		"BHP.AX":   "BHP.AX",
		"rds-a":    "RDS-A",
		"GOOGL":    "GOOGL",
		"X":        "X",
		"abcdefgh": "ABCDEFGH",
	}
	for in, want := range tests {
		got, err := Normalize(in)
		if err != nil {
			t.Errorf("Normalize(%q): unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\t"} {
		if _, err := Normalize(in); !errors.Is(err, ErrEmpty) {
			t.Errorf("Normalize(%q): expected ErrEmpty, got %v", in, err)
		}
	}
}

func TestNormalize_InvalidFormat(t *testing.T) {
	tests := []string{
		"AA PL",
		"$AAPL",
		"AAPL.",
		".AAPL",
		"A..B",
		"ABCDEFGHIJK", // too long
		"AAPL;DROP",
		"1ABC",
	}
	for _, in := range tests {
		if _, err := Normalize(in); !errors.Is(err, ErrInvalid) {
			t.Errorf("Normalize(%q): expected ErrInvalid, got %v", in, err)
		}
	}
}
