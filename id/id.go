// Package id defines TypeID-based identity types for all Credits entities.
//
// Every entity in Credits uses a single ID struct with a prefix that
// identifies the entity type. IDs are K-sortable (UUIDv7-based), globally
// unique, and URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all Credits entity types.
const (
	PrefixTransaction  Prefix = "txn"   // Ledger transaction
	PrefixSession      Prefix = "ses"   // Credit reservation session
	PrefixAllocation   Prefix = "alloc" // Monthly allocation
	PrefixRollover     Prefix = "roll"  // Period rollover
	PrefixAuditRun     Prefix = "arun"  // Audit/reconciliation run
	PrefixTier         Prefix = "tier"  // Subscription tier
	PrefixSubscription Prefix = "sub"   // Tenant subscription
	PrefixAddOn        Prefix = "addon" // Subscription add-on
)

// ID is the primary identifier type for all Credits entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "txn_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases
// ──────────────────────────────────────────────────

// TransactionID is a type-safe identifier for ledger transactions (prefix: "txn").
type TransactionID = ID

// SessionID is a type-safe identifier for reservation sessions (prefix: "ses").
type SessionID = ID

// AllocationID is a type-safe identifier for monthly allocations (prefix: "alloc").
type AllocationID = ID

// RolloverID is a type-safe identifier for rollovers (prefix: "roll").
type RolloverID = ID

// AuditRunID is a type-safe identifier for audit runs (prefix: "arun").
type AuditRunID = ID

// TierID is a type-safe identifier for subscription tiers (prefix: "tier").
type TierID = ID

// SubscriptionID is a type-safe identifier for tenant subscriptions (prefix: "sub").
type SubscriptionID = ID

// AddOnID is a type-safe identifier for subscription add-ons (prefix: "addon").
type AddOnID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewTransactionID generates a new unique transaction ID.
func NewTransactionID() ID { return New(PrefixTransaction) }

// NewSessionID generates a new unique session ID.
func NewSessionID() ID { return New(PrefixSession) }

// NewAllocationID generates a new unique allocation ID.
func NewAllocationID() ID { return New(PrefixAllocation) }

// NewRolloverID generates a new unique rollover ID.
func NewRolloverID() ID { return New(PrefixRollover) }

// NewAuditRunID generates a new unique audit run ID.
func NewAuditRunID() ID { return New(PrefixAuditRun) }

// NewTierID generates a new unique tier ID.
func NewTierID() ID { return New(PrefixTier) }

// NewSubscriptionID generates a new unique subscription ID.
func NewSubscriptionID() ID { return New(PrefixSubscription) }

// NewAddOnID generates a new unique add-on ID.
func NewAddOnID() ID { return New(PrefixAddOn) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

// ParseTransactionID parses a string and validates the "txn" prefix.
func ParseTransactionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixTransaction) }

// ParseSessionID parses a string and validates the "ses" prefix.
func ParseSessionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSession) }

// ParseAllocationID parses a string and validates the "alloc" prefix.
func ParseAllocationID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAllocation) }

// ParseRolloverID parses a string and validates the "roll" prefix.
func ParseRolloverID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRollover) }

// ParseAuditRunID parses a string and validates the "arun" prefix.
func ParseAuditRunID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAuditRun) }

// ParseTierID parses a string and validates the "tier" prefix.
func ParseTierID(s string) (ID, error) { return ParseWithPrefix(s, PrefixTier) }

// ParseSubscriptionID parses a string and validates the "sub" prefix.
func ParseSubscriptionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSubscription) }

// ParseAddOnID parses a string and validates the "addon" prefix.
func ParseAddOnID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAddOn) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
