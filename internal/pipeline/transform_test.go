package pipeline

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"12.50", "12.5", false},
		{"-12.50", "-12.5", false},
		{"$1,234.56", "1234.56", false},
		{"-$45.00", "-45", false},
		{"(45.00)", "-45", false},
		{"45.00-", "-45", false},
		{"45.00 CR", "45", false},
		{"45.00DR", "-45", false},
		{"£9.99", "9.99", false},
		{"+3", "3", false},
		{"1.005", "1.01", false},
		{"", "", true},
		{"abc", "", true},
		{"$", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q) expected error, got %s", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.in, err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in     string
		layout string
		want   string
	}{
		{"2024-03-01", "", "2024-03-01"},
		{"03/01/2024", "", "2024-03-01"},
		{"3/1/2024", "", "2024-03-01"},
		{"25/03/2024", "", "2024-03-25"},
		{"Mar 5, 2024", "", "2024-03-05"},
		{"5 Mar 2024", "", "2024-03-05"},
		{"05-Mar-2024", "", "2024-03-05"},
		{"01/03/2024", "02/01/2006", "2024-03-01"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in, tt.layout)
			if err != nil {
				t.Fatalf("ParseDate(%q) unexpected error: %v", tt.in, err)
			}
			if got.Format("2006-01-02") != tt.want {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.in, got.Format("2006-01-02"), tt.want)
			}
			if got.Location() != time.UTC || got.Hour() != 0 {
				t.Errorf("ParseDate(%q) not truncated to a UTC day: %v", tt.in, got)
			}
		})
	}
}

func TestParseDate_Errors(t *testing.T) {
	for _, in := range []string{"", "yesterday", "2024-13-45"} {
		if _, err := ParseDate(in, ""); err == nil {
			t.Errorf("ParseDate(%q) expected error", in)
		}
	}
	if _, err := ParseDate("2024-03-01", "02/01/2006"); err == nil {
		t.Error("explicit layout should not fall back to other layouts")
	}
}
