package types

import "testing"

func TestAmountConstructors(t *testing.T) {
	tests := []struct {
		name   string
		amount Amount
		ctype  CreditType
		n      int64
	}{
		{"Lead", Lead(100), CreditLead, 100},
		{"Email", Email(50), CreditEmail, 50},
		{"LinkedIn", LinkedIn(25), CreditLinkedIn, 25},
		{"ABM", ABM(10), CreditABM, 10},
		{"Of", Of(CreditLead, 7), CreditLead, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.amount.Get(tt.ctype); got != tt.n {
				t.Errorf("Get(%s): got %d, want %d", tt.ctype, got, tt.n)
			}
		})
	}
}

func TestAmountArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Amount
		expected Amount
	}{
		{"Add same type", func() Amount { return Lead(100).Add(Lead(200)) }, Lead(300)},
		{"Add mixed types", func() Amount { return Lead(100).Add(Email(50)) }, Amount{CreditLead: 100, CreditEmail: 50}},
		{"Subtract", func() Amount { return Lead(500).Subtract(Lead(200)) }, Lead(300)},
		{"Subtract to negative", func() Amount { return Lead(100).Subtract(Lead(150)) }, Lead(-50)},
		{"Negate", func() Amount { return Lead(100).Negate() }, Lead(-100)},
		{"Min", func() Amount { return Lead(100).Min(Lead(40)) }, Lead(40)},
		{"Sum", func() Amount { return Sum(Lead(1), Lead(2), Email(3)) }, Amount{CreditLead: 3, CreditEmail: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestAmountDoesNotMutateReceiver(t *testing.T) {
	a := Lead(100)
	_ = a.Add(Lead(50))
	_ = a.Subtract(Lead(10))
	_ = a.With(CreditEmail, 5)

	if got := a.Get(CreditLead); got != 100 {
		t.Errorf("receiver mutated: got %d, want 100", got)
	}
	if got := a.Get(CreditEmail); got != 0 {
		t.Errorf("receiver mutated: got %d, want 0", got)
	}
}

func TestAmountPredicates(t *testing.T) {
	tests := []struct {
		name        string
		amount      Amount
		isZero      bool
		anyNegative bool
		allPositive bool
	}{
		{"empty", Zero(), true, false, false},
		{"explicit zero entry", Lead(0), true, false, false},
		{"positive", Lead(10), false, false, true},
		{"negative", Lead(-10), false, true, false},
		{"mixed", Lead(10).Add(Email(-5)), false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.amount.IsZero(); got != tt.isZero {
				t.Errorf("IsZero: got %v, want %v", got, tt.isZero)
			}
			if got := tt.amount.AnyNegative(); got != tt.anyNegative {
				t.Errorf("AnyNegative: got %v, want %v", got, tt.anyNegative)
			}
			if got := tt.amount.AllPositive(); got != tt.allPositive {
				t.Errorf("AllPositive: got %v, want %v", got, tt.allPositive)
			}
		})
	}
}

func TestAmountEqualTreatsAbsentAsZero(t *testing.T) {
	if !Zero().Equal(Lead(0)) {
		t.Error("Zero() should equal Lead(0)")
	}
	if !Lead(5).Equal(Amount{CreditLead: 5, CreditEmail: 0}) {
		t.Error("absent and zero entries should compare equal")
	}
}

func TestAmountTypesOrdering(t *testing.T) {
	a := Amount{CreditLinkedIn: 1, CreditLead: 2, CreditEmail: 3}
	got := a.Types()
	want := []CreditType{CreditEmail, CreditLead, CreditLinkedIn}
	if len(got) != len(want) {
		t.Fatalf("got %d types, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Types()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestAmountString(t *testing.T) {
	tests := []struct {
		name   string
		amount Amount
		want   string
	}{
		{"empty", Zero(), "empty"},
		{"single", Lead(100), "lead:100"},
		{"multi", Lead(100).Add(Email(50)), "email:50 lead:100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.amount.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreditTypeRollable(t *testing.T) {
	tests := []struct {
		ctype    CreditType
		rollable bool
	}{
		{CreditLead, true},
		{CreditEmail, true},
		{CreditLinkedIn, false},
		{CreditABM, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.ctype), func(t *testing.T) {
			if got := tt.ctype.Rollable(); got != tt.rollable {
				t.Errorf("Rollable: got %v, want %v", got, tt.rollable)
			}
		})
	}
}
