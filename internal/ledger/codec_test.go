package ledger

import (
	"bytes"
	"crypto/ed25519"
	"testing"
	"time"
)

func TestMarshalRecordDeterministic(t *testing.T) {
	agent := &Agent{
		Address:         addr(1),
		Name:            "alice",
		Creator:         addr(2),
		Authority:       addr(2),
		CreatedAt:       time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC),
		CreatorSigned:   true,
		SuccessfulJobs:  7,
		TotalEarned:     900,
		ReputationScore: 4000,
		CreatorSplitBps: 1000,
		Balance:         42,
	}

	first, err := MarshalRecord(agent)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := MarshalRecord(agent)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("encoding must be byte-identical across calls")
	}

	var decoded Agent
	if err := UnmarshalRecord(first, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != *agent {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, *agent)
	}

	reencoded, err := MarshalRecord(&decoded)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if !bytes.Equal(first, reencoded) {
		t.Fatal("decode-encode must reproduce the original bytes")
	}
}

func TestEscrowRoundTrip(t *testing.T) {
	esc := &Escrow{
		Address:      addr(3),
		JobID:        "job-1",
		JobHash:      Hash{0xde, 0xad},
		Requester:    addr(1),
		Worker:       addr(2),
		Amount:       100,
		Status:       StatusInProgress,
		TimeoutHours: 48,
		Deadline:     time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC),
		CreatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	raw, err := MarshalRecord(esc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Escrow
	if err := UnmarshalRecord(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != *esc {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, *esc)
	}
}

func TestSignInstruction(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := SignerAddress(pub)
	if err != nil {
		t.Fatal(err)
	}

	params := CompleteJobParams{JobID: "job-1", Signer: signer}
	sig, err := SignInstruction(priv, params)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := VerifyInstruction(signer, params, sig); err != nil {
		t.Errorf("verify: %v", err)
	}

	// Any change to the signed parameters invalidates the signature.
	tampered := params
	tampered.JobID = "job-2"
	if err := VerifyInstruction(signer, tampered, sig); err == nil {
		t.Error("tampered params must not verify")
	}

	otherPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	otherSigner, err := SignerAddress(otherPub)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyInstruction(otherSigner, params, sig); err == nil {
		t.Error("wrong key must not verify")
	}
}
