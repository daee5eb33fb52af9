package pophttp

import (
	"context"
	"fmt"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/identity"
)

// TrustStore finds the trusted identity for a certificate thumbprint (x5t).
// A nil identity with a nil error means the thumbprint is unknown.
type TrustStore interface {
	Lookup(ctx context.Context, x5t string) (*identity.Identity, error)
}

// StaticTrust is a fixed set of trusted identities keyed by x5t.
type StaticTrust map[string]*identity.Identity

// Trust builds a StaticTrust holding the public halves of ids.
func Trust(ids ...*identity.Identity) (StaticTrust, error) {
	t := make(StaticTrust, len(ids))
	for _, id := range ids {
		if id == nil {
			return nil, fmt.Errorf("%w: nil identity", pop.ErrKey)
		}
		t[id.X5T()] = id.Public()
	}
	return t, nil
}

// Lookup implements TrustStore.
func (t StaticTrust) Lookup(_ context.Context, x5t string) (*identity.Identity, error) {
	return t[x5t], nil
}
