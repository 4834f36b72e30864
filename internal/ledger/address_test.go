package ledger

import (
	"testing"
)

func addr(b byte) Address {
	var a Address
	a[0] = b
	return a
}

func TestDeriveAgentAddressDeterministic(t *testing.T) {
	creator := addr(1)

	a1 := DeriveAgentAddress(creator, "alice")
	a2 := DeriveAgentAddress(creator, "alice")
	if a1 != a2 {
		t.Fatal("same seeds must derive the same address")
	}
}

func TestDeriveAgentAddressDistinct(t *testing.T) {
	creator := addr(1)
	other := addr(2)

	tests := []struct {
		name string
		a, b Address
	}{
		{"different names", DeriveAgentAddress(creator, "alice"), DeriveAgentAddress(creator, "bob")},
		{"different creators", DeriveAgentAddress(creator, "alice"), DeriveAgentAddress(other, "alice")},
		{"zero address sentinel", DeriveAgentAddress(creator, "alice"), ZeroAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.a == tt.b {
				t.Errorf("expected distinct addresses, both %s", tt.a)
			}
		})
	}
}

func TestDeriveSeedBoundaries(t *testing.T) {
	// Seeds are length-prefixed: shifting bytes between creator and
	// name must change the derived address.
	var c1, c2 Address
	copy(c1[:], "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaab")
	copy(c2[:], "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	if DeriveAgentAddress(c1, "x") == DeriveAgentAddress(c2, "bx") {
		t.Fatal("seed boundaries must be unambiguous")
	}
}

func TestDomainSeparation(t *testing.T) {
	// An escrow seed must never collide with an agent seed even when
	// the raw bytes line up.
	jobID := "alice"
	agent := DeriveAgentAddress(ZeroAddress, jobID)
	escrow := DeriveEscrowAddress(jobID)
	if agent == escrow {
		t.Fatal("agent and escrow derivations must be domain separated")
	}
}

func TestAddressTextRoundTrip(t *testing.T) {
	original := DeriveEscrowAddress("job-1")

	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	parsed, err := ParseAddress(string(text))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != original {
		t.Errorf("round trip mismatch: got %s, want %s", parsed, original)
	}
}

func TestParseAddressInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not hex", "zz"},
		{"too short", "deadbeef"},
		{"too long", "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAddress(tt.input); err == nil {
				t.Errorf("expected error for %q", tt.input)
			}
		})
	}
}
