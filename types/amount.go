// Package types provides common types used across Credits.
package types

import (
	"fmt"
	"sort"
	"strings"
)

// Amount is a per-credit-type vector of credit units. All arithmetic is
// integer-only and non-mutating: every operation returns a new Amount and
// never modifies its receiver or arguments.
//
// Examples:
//   - Lead(100)              = 100 lead credits
//   - Email(50).Add(Lead(10)) = 50 email + 10 lead credits
type Amount map[CreditType]int64

// Per-type constructors.

// Lead creates an Amount holding n lead credits.
func Lead(n int64) Amount { return Amount{CreditLead: n} }

// Email creates an Amount holding n email credits.
func Email(n int64) Amount { return Amount{CreditEmail: n} }

// LinkedIn creates an Amount holding n LinkedIn credits.
func LinkedIn(n int64) Amount { return Amount{CreditLinkedIn: n} }

// ABM creates an Amount holding n account-based-marketing credits.
func ABM(n int64) Amount { return Amount{CreditABM: n} }

// Zero returns an empty Amount.
func Zero() Amount { return Amount{} }

// Of creates an Amount holding n credits of the given type.
func Of(t CreditType, n int64) Amount { return Amount{t: n} }

// Get returns the number of credits of the given type, zero if absent.
func (a Amount) Get(t CreditType) int64 { return a[t] }

// With returns a copy of a with the given type set to n.
func (a Amount) With(t CreditType, n int64) Amount {
	out := a.Clone()
	out[t] = n
	return out
}

// Clone returns an independent copy of a.
func (a Amount) Clone() Amount {
	out := make(Amount, len(a))
	for t, n := range a {
		out[t] = n
	}
	return out
}

// Arithmetic operations

// Add returns a + other.
func (a Amount) Add(other Amount) Amount {
	out := a.Clone()
	for t, n := range other {
		out[t] += n
	}
	return out
}

// Subtract returns a - other.
func (a Amount) Subtract(other Amount) Amount {
	out := a.Clone()
	for t, n := range other {
		out[t] -= n
	}
	return out
}

// Negate returns the negative of every entry.
func (a Amount) Negate() Amount {
	out := make(Amount, len(a))
	for t, n := range a {
		out[t] = -n
	}
	return out
}

// Min returns the entry-wise minimum of a and other, over the union of
// their types.
func (a Amount) Min(other Amount) Amount {
	out := make(Amount)
	for _, t := range a.Types() {
		out[t] = a[t]
	}
	for _, t := range other.Types() {
		if v, ok := out[t]; !ok || other[t] < v {
			out[t] = other[t]
		}
	}
	return out
}

// Comparison methods

// IsZero reports whether every entry is zero.
func (a Amount) IsZero() bool {
	for _, n := range a {
		if n != 0 {
			return false
		}
	}
	return true
}

// AnyNegative reports whether any entry is below zero.
func (a Amount) AnyNegative() bool {
	for _, n := range a {
		if n < 0 {
			return true
		}
	}
	return false
}

// AllPositive reports whether a is non-empty and every entry is above zero.
func (a Amount) AllPositive() bool {
	if len(a) == 0 {
		return false
	}
	for _, n := range a {
		if n <= 0 {
			return false
		}
	}
	return true
}

// Equal reports whether a and other hold the same credits, treating absent
// and zero entries as equivalent.
func (a Amount) Equal(other Amount) bool {
	for _, t := range AllCreditTypes {
		if a[t] != other[t] {
			return false
		}
	}
	return true
}

// Types returns the credit types with a non-zero entry, in canonical order.
func (a Amount) Types() []CreditType {
	out := make([]CreditType, 0, len(a))
	for t, n := range a {
		if n != 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Total returns the sum of all entries across types. Useful only for
// display; credit types are not interchangeable.
func (a Amount) Total() int64 {
	var total int64
	for _, n := range a {
		total += n
	}
	return total
}

// String returns a human-readable form like "lead:100 email:50".
func (a Amount) String() string {
	types := a.Types()
	if len(types) == 0 {
		return "empty"
	}
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%s:%d", t, a[t]))
	}
	return strings.Join(parts, " ")
}

// Sum calculates the sum of multiple Amounts.
func Sum(values ...Amount) Amount {
	out := Zero()
	for _, v := range values {
		out = out.Add(v)
	}
	return out
}
