package session

import (
	"context"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Store is the per-aggregate view of session persistence.
type Store interface {
	Create(ctx context.Context, s *Session) error

	Get(ctx context.Context, sessionID id.SessionID) (*Session, error)

	// Transition moves a session from one status to another with
	// compare-and-set semantics: it fails if the session is not currently
	// in the from status, so exactly one terminal transition can win.
	// actual is recorded only on the transition to committed.
	Transition(ctx context.Context, sessionID id.SessionID, from, to Status, actual types.Amount) error

	// SumReserved returns the total estimated cost of all currently
	// reserved sessions for (tenant, type). Holds must be observed in the
	// same serialization domain as ledger posts.
	SumReserved(ctx context.Context, tenantID string, ct types.CreditType) (int64, error)

	// ListExpired returns sessions still in reserved state whose ExpiresAt
	// is at or before now, for the background sweep.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Session, error)

	List(ctx context.Context, tenantID string, opts ListOpts) ([]*Session, error)
}
