package ledger

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

// ErrBadSignature is returned when an instruction signature does not
// verify against the claimed signer.
var ErrBadSignature = errors.New("invalid instruction signature")

// SignerAddress converts an ed25519 public key to its wallet address.
// The key is the address: no derivation, matching how wallets are
// keyed in the balance table.
func SignerAddress(pub ed25519.PublicKey) (Address, error) {
	var a Address
	if len(pub) != len(a) {
		return Address{}, fmt.Errorf("signer public key must be %d bytes, got %d", len(a), len(pub))
	}
	copy(a[:], pub)
	return a, nil
}

// SignInstruction signs the canonical CBOR encoding of the instruction
// params. Canonical encoding means signer and verifier always see the
// same bytes regardless of the JSON they exchanged.
func SignInstruction(priv ed25519.PrivateKey, params any) ([]byte, error) {
	msg, err := MarshalRecord(params)
	if err != nil {
		return nil, fmt.Errorf("encoding instruction for signing: %w", err)
	}
	return ed25519.Sign(priv, msg), nil
}

// VerifyInstruction checks sig over the canonical encoding of params
// against the signer address, interpreted as an ed25519 public key.
func VerifyInstruction(signer Address, params any, sig []byte) error {
	msg, err := MarshalRecord(params)
	if err != nil {
		return fmt.Errorf("encoding instruction for verification: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(signer[:]), msg, sig) {
		return ErrBadSignature
	}
	return nil
}
