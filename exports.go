package credits

import "github.com/xraph/credits/types"

// Re-export common types for convenience so users don't have to import types package.

// Amount is re-exported from types package.
type Amount = types.Amount

// CreditType is re-exported from types package.
type CreditType = types.CreditType

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Amount constructors
var (
	Lead     = types.Lead
	Email    = types.Email
	LinkedIn = types.LinkedIn
	ABM      = types.ABM
	Zero     = types.Zero
	Of       = types.Of
	Sum      = types.Sum
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
