package ledger

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Address is a 32-byte account address. Signer addresses are ed25519
// public keys; record addresses are derived from stable seeds so that
// uniqueness is structural rather than checked against an index.
type Address [32]byte

// ZeroAddress is the sentinel for "unset" (e.g. an escrow with no
// worker hired yet).
var ZeroAddress Address

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Agent and
// escrow derivations use distinct keys so the same seed bytes can
// never collide across record kinds.
type domainKey [32]byte

// Derivation domain keys. Fixed constants: changing them relocates
// every record in the ledger. The byte values are the ASCII encoding
// of the domain name, zero-padded to 32 bytes, so they stay readable
// in hex dumps.
var (
	agentDomainKey = domainKey{
		'a', 'g', 'e', 'n', 't', 'l', 'i', 'n', 'k', '.', 'l', 'e', 'd', 'g', 'e', 'r',
		'.', 'a', 'g', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	escrowDomainKey = domainKey{
		'a', 'g', 'e', 'n', 't', 'l', 'i', 'n', 'k', '.', 'l', 'e', 'd', 'g', 'e', 'r',
		'.', 'e', 's', 'c', 'r', 'o', 'w', 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

func derive(key domainKey, seeds ...[]byte) Address {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails on a key that is not 32 bytes.
		panic("ledger: blake3 keyed hasher: " + err.Error())
	}
	var buf bytes.Buffer
	for _, s := range seeds {
		// Length-prefix each seed so ("ab","c") and ("a","bc")
		// derive different addresses.
		var n [4]byte
		n[0] = byte(len(s) >> 24)
		n[1] = byte(len(s) >> 16)
		n[2] = byte(len(s) >> 8)
		n[3] = byte(len(s))
		buf.Write(n[:])
		buf.Write(s)
	}
	_, _ = h.Write(buf.Bytes())

	var addr Address
	_, _ = h.Digest().Read(addr[:])
	return addr
}

// DeriveAgentAddress computes the record address for an agent
// registered by creator under the given name.
func DeriveAgentAddress(creator Address, name string) Address {
	return derive(agentDomainKey, creator[:], []byte(name))
}

// DeriveEscrowAddress computes the record address for the escrow of
// the given job id. One escrow per job id, structurally.
func DeriveEscrowAddress(jobID string) Address {
	return derive(escrowDomainKey, []byte(jobID))
}

// IsZero reports whether the address is the unset sentinel.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// String returns the hex encoding of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler, so addresses encode
// as hex strings in JSON and CBOR.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	return a.decodeHex(string(text))
}

func (a *Address) decodeHex(s string) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decoding address hex: %w", err)
	}
	if len(raw) != len(a) {
		return fmt.Errorf("address must be %d bytes, got %d", len(a), len(raw))
	}
	copy(a[:], raw)
	return nil
}

// ParseAddress parses a hex-encoded 32-byte address.
func ParseAddress(s string) (Address, error) {
	var a Address
	if err := a.decodeHex(s); err != nil {
		return Address{}, err
	}
	return a, nil
}
