package notify

import (
	"context"
	"fmt"

	"github.com/agentlink/agentlink/internal/crypto"
	"github.com/agentlink/agentlink/internal/ledger"
	"github.com/agentlink/agentlink/internal/mirror"
)

// MirrorResolver resolves webhook endpoints from agent profiles,
// decrypting the stored signing secret.
type MirrorResolver struct {
	profiles *mirror.ProfileStore
	cipher   *crypto.Cipher
}

// NewMirrorResolver creates a resolver over the profile store. cipher
// may be nil when secrets are stored unencrypted.
func NewMirrorResolver(profiles *mirror.ProfileStore, cipher *crypto.Cipher) *MirrorResolver {
	return &MirrorResolver{profiles: profiles, cipher: cipher}
}

// Endpoint implements Resolver.
func (r *MirrorResolver) Endpoint(ctx context.Context, addr ledger.Address) (*Endpoint, error) {
	url, secretEnc, err := r.profiles.Webhook(ctx, addr)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, nil
	}
	secret, err := r.cipher.DecryptSecret(secretEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypting webhook secret: %w", err)
	}
	return &Endpoint{URL: url, Secret: secret}, nil
}
