package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/agentlink/agentlink/internal/ledger"
)

// Agent represents an authenticated marketplace agent.
type Agent struct {
	Address  ledger.Address
	Name     string
	Verified bool
}

// APIKey holds the hashed key and a short prefix for identification.
type APIKey struct {
	Hash   string
	Prefix string // first 16 characters of the plaintext key
}

// AgentLookup is the interface for retrieving agents by their key hash.
type AgentLookup interface {
	GetByKeyHash(ctx context.Context, hash string) (*Agent, error)
}

// Service provides authentication operations backed by an agent store.
type Service struct {
	store AgentLookup
}

// NewService creates a new authentication service.
func NewService(store AgentLookup) *Service {
	return &Service{store: store}
}

// GenerateAPIKey creates a new API key with the "agentlink_" prefix
// followed by 32 URL-safe random characters. It returns the APIKey
// struct (containing the hash and prefix) and the full plaintext key.
func GenerateAPIKey() (APIKey, string, error) {
	b := make([]byte, 24) // 24 bytes -> 32 base64url chars
	if _, err := rand.Read(b); err != nil {
		return APIKey{}, "", fmt.Errorf("generating random bytes: %w", err)
	}

	random := base64.RawURLEncoding.EncodeToString(b)
	plaintext := "agentlink_" + random

	key := APIKey{
		Hash:   HashKey(plaintext),
		Prefix: plaintext[:16],
	}

	return key, plaintext, nil
}

// HashKey returns the hex-encoded SHA-256 hash of the given plaintext key.
func HashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// HashAdminKey returns the bcrypt hash of an admin key, for storing in
// configuration.
func HashAdminKey(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing admin key: %w", err)
	}
	return string(h), nil
}

// VerifyAdminKey checks a presented admin key against the configured
// bcrypt hash.
func VerifyAdminKey(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
