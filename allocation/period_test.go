package allocation

import (
	"testing"
	"time"

	"github.com/xraph/credits/types"
)

func TestPeriodOf(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want Period
	}{
		{"mid month", time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC), "2026-08"},
		{"first instant", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2026-01"},
		{"non-UTC normalizes", time.Date(2026, 1, 1, 3, 0, 0, 0, time.FixedZone("plus5", 5*3600)), "2025-12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PeriodOf(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPeriodAdd(t *testing.T) {
	tests := []struct {
		name string
		in   Period
		n    int
		want Period
	}{
		{"next", "2026-08", 1, "2026-09"},
		{"year boundary", "2026-12", 1, "2027-01"},
		{"plus three", "2026-08", 3, "2026-11"},
		{"backwards", "2026-01", -1, "2025-12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Add(tt.n); got != tt.want {
				t.Errorf("%q.Add(%d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestPeriodOrdering(t *testing.T) {
	if !Period("2026-08").Before("2026-09") {
		t.Error("2026-08 should be before 2026-09")
	}
	if !Period("2027-01").After("2026-12") {
		t.Error("2027-01 should be after 2026-12")
	}
}

func TestPeriodValid(t *testing.T) {
	if !Period("2026-08").Valid() {
		t.Error("2026-08 should be valid")
	}
	if Period("garbage").Valid() {
		t.Error("garbage should not be valid")
	}
	if Period("2026-13").Valid() {
		t.Error("month 13 should not be valid")
	}
}

func TestAllocationTotals(t *testing.T) {
	a := &MonthlyAllocation{
		Base:       types.Lead(100).Add(types.Email(50)),
		AddOn:      types.Lead(20),
		RolloverIn: types.Lead(30).Add(types.Email(10)),
		Used:       types.Lead(40).Add(types.Email(5)),
	}

	total := a.Total()
	if got := total.Get(types.CreditLead); got != 150 {
		t.Errorf("total lead: got %d, want 150", got)
	}
	if got := total.Get(types.CreditEmail); got != 60 {
		t.Errorf("total email: got %d, want 60", got)
	}
	if got := a.Remaining(types.CreditLead); got != 110 {
		t.Errorf("remaining lead: got %d, want 110", got)
	}
	if got := a.Remaining(types.CreditEmail); got != 55 {
		t.Errorf("remaining email: got %d, want 55", got)
	}
}
