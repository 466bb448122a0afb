// Package types provides common types used across Credits.
package types

// CreditType identifies one of the fixed outreach capacity units a tenant
// can own and spend.
type CreditType string

const (
	CreditLead     CreditType = "lead"
	CreditEmail    CreditType = "email"
	CreditLinkedIn CreditType = "linkedin"
	CreditABM      CreditType = "abm"
)

// AllCreditTypes lists every known credit type in canonical order.
var AllCreditTypes = []CreditType{CreditLead, CreditEmail, CreditLinkedIn, CreditABM}

// Valid reports whether t is one of the known credit types.
func (t CreditType) Valid() bool {
	switch t {
	case CreditLead, CreditEmail, CreditLinkedIn, CreditABM:
		return true
	}
	return false
}

// Rollable reports whether unused credit of this type may be carried into
// the next billing period. Only lead and email credit rolls over.
func (t CreditType) Rollable() bool {
	return t == CreditLead || t == CreditEmail
}

// String returns the credit type as a plain string.
func (t CreditType) String() string { return string(t) }
