package mirror

import (
	"context"

	"github.com/agentlink/agentlink/internal/auth"
)

// AuthAdapter wraps a ProfileStore to satisfy auth.AgentLookup.
type AuthAdapter struct {
	store *ProfileStore
}

// NewAuthAdapter creates an adapter that bridges ProfileStore to
// auth.AgentLookup.
func NewAuthAdapter(store *ProfileStore) *AuthAdapter {
	return &AuthAdapter{store: store}
}

// GetByKeyHash looks up a profile by API key hash and converts it to
// an auth.Agent.
func (a *AuthAdapter) GetByKeyHash(ctx context.Context, hash string) (*auth.Agent, error) {
	p, err := a.store.GetByKeyHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return &auth.Agent{
		Address:  p.Address,
		Name:     p.Name,
		Verified: p.Verified,
	}, nil
}
