// Package auth implements the Authorization Guard.
//
// Two checks exist. Guard.Authorize admits only the configured recording
// authority (the identity the Stream Engine reports ledger events under).
// RequireParty admits only the principals a specific stream names, and is
// used for withdraw, refuel, cancel and rating.
package auth

import "github.com/roach88/streamledger/internal/ir"

// Guard admits a single trusted authority.
type Guard struct {
	authority ir.Principal
}

// NewGuard creates a guard for authority. An empty authority admits nobody.
func NewGuard(authority ir.Principal) Guard {
	return Guard{authority: authority.Normalize()}
}

// Authority returns the normalised trusted identity.
func (g Guard) Authority() ir.Principal {
	return g.authority
}

// Authorize returns UNAUTHORIZED unless caller is the trusted authority.
func (g Guard) Authorize(caller ir.Principal) error {
	if g.authority == "" || caller.Normalize() != g.authority {
		return ir.NewError(ir.ErrCodeUnauthorized, "caller %q is not the recording authority", caller).
			WithPrincipal(caller)
	}
	return nil
}

// RequireParty returns UNAUTHORIZED unless caller equals one of allowed.
func RequireParty(caller ir.Principal, allowed ...ir.Principal) error {
	if caller.IsZero() {
		return ir.NewError(ir.ErrCodeUnauthorized, "caller is required")
	}
	for _, p := range allowed {
		if caller.Equal(p) {
			return nil
		}
	}
	return ir.NewError(ir.ErrCodeUnauthorized, "caller %q is not a party to this stream", caller).
		WithPrincipal(caller)
}

// SameParties reports whether {a, b} equals {x, y} as an unordered pair of
// two distinct principals.
func SameParties(a, b, x, y ir.Principal) bool {
	if a.Equal(b) || x.Equal(y) {
		return false
	}
	return (a.Equal(x) && b.Equal(y)) || (a.Equal(y) && b.Equal(x))
}
