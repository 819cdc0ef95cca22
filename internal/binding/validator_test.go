package binding

import (
	"errors"
	"testing"

	"zkbind/internal/bls"
	"zkbind/internal/request"
)

// validInput returns the reference scenario input, which passes every rule.
func validInput() *request.AggregationInput {
	return &request.AggregationInput{
		Generation:          request.ProofPayload{Proof: `{"publicSignals":["1"]}`, PublicSignals: []string{"1"}},
		Social:              request.ProofPayload{Proof: `{"publicSignals":["5"]}`, PublicSignals: []string{"5"}},
		SessionNonce:        "n1",
		VerifiedRoot:        "r",
		MinVerifiedNeeded:   10,
		TargetGenerationID:  2,
		SelfNullifier:       "nul1",
		GenerationClaimHash: "h",
		SocialClaimHash:     "h",
	}
}

// expectViolation asserts err is a *Error of the given kind and side.
func expectViolation(t *testing.T, err error, kind error, side Side) {
	t.Helper()

	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}

	var bErr *Error
	if !errors.As(err, &bErr) {
		t.Fatalf("expected *Error, got %T", err)
	}

	if bErr.Side != side {
		t.Errorf("side = %v, want %v", bErr.Side, side)
	}
}

func TestValidate_Scenario(t *testing.T) {
	if err := Validate(validInput()); err != nil {
		t.Fatalf("scenario input rejected: %v", err)
	}
}

// TestValidate_Violations tests each rule in isolation against an otherwise valid input.
func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *request.AggregationInput)
		kind   error
		side   Side
	}{
		{"empty generation proof", func(in *request.AggregationInput) { in.Generation.Proof = "" }, ErrEmptyProof, SideGeneration},
		{"empty social proof", func(in *request.AggregationInput) { in.Social.Proof = "" }, ErrEmptyProof, SideSocial},
		{"empty generation signals", func(in *request.AggregationInput) { in.Generation.PublicSignals = []string{} }, ErrEmptySignals, SideGeneration},
		{"nil social signals", func(in *request.AggregationInput) { in.Social.PublicSignals = nil }, ErrEmptySignals, SideSocial},
		{"empty nullifier", func(in *request.AggregationInput) { in.SelfNullifier = "" }, ErrEmptyNullifier, SideNone},
		{"empty nonce", func(in *request.AggregationInput) { in.SessionNonce = "" }, ErrEmptySessionNonce, SideNone},
		{"generation id 5", func(in *request.AggregationInput) { in.TargetGenerationID = 5 }, ErrGenerationIDOutOfRange, SideNone},
		{"generation id max", func(in *request.AggregationInput) { in.TargetGenerationID = ^uint32(0) }, ErrGenerationIDOutOfRange, SideNone},
		{"social level 0", func(in *request.AggregationInput) { in.MinVerifiedNeeded = 0 }, ErrSocialLevelOutOfRange, SideNone},
		{"social level 101", func(in *request.AggregationInput) { in.MinVerifiedNeeded = 101 }, ErrSocialLevelOutOfRange, SideNone},
		{"claim hash mismatch", func(in *request.AggregationInput) { in.SocialClaimHash = "other" }, ErrClaimHashMismatch, SideNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(in)

			expectViolation(t, Validate(in), tt.kind, tt.side)
		})
	}
}

// TestValidate_Boundaries tests that the inclusive range bounds pass.
func TestValidate_Boundaries(t *testing.T) {
	for _, id := range []uint32{0, 4} {
		in := validInput()
		in.TargetGenerationID = id

		if err := Validate(in); err != nil {
			t.Errorf("generation id %d rejected: %v", id, err)
		}
	}

	for _, level := range []uint32{1, 100} {
		in := validInput()
		in.MinVerifiedNeeded = level

		if err := Validate(in); err != nil {
			t.Errorf("social level %d rejected: %v", level, err)
		}
	}
}

// TestValidate_FailFastOrder tests that the first rule in order wins when several fail.
func TestValidate_FailFastOrder(t *testing.T) {
	in := validInput()
	in.Social.Proof = ""
	in.Generation.PublicSignals = nil
	in.SelfNullifier = ""
	in.MinVerifiedNeeded = 0

	expectViolation(t, Validate(in), ErrEmptyProof, SideSocial)

	in.Social.Proof = "p"
	expectViolation(t, Validate(in), ErrEmptySignals, SideGeneration)

	in.Generation.PublicSignals = []string{"1"}
	expectViolation(t, Validate(in), ErrEmptyNullifier, SideNone)

	in.SelfNullifier = "n"
	expectViolation(t, Validate(in), ErrSocialLevelOutOfRange, SideNone)
}

// TestValidate_RelaxedPolicy tests that relaxed binding accepts distinct but present hashes.
func TestValidate_RelaxedPolicy(t *testing.T) {
	v := NewValidator(PolicyRelaxed, nil)

	in := validInput()
	in.SocialClaimHash = "other"

	if err := v.Validate(in); err != nil {
		t.Fatalf("relaxed policy rejected distinct hashes: %v", err)
	}

	in.GenerationClaimHash = ""
	expectViolation(t, v.Validate(in), ErrClaimHashMismatch, SideGeneration)

	in.GenerationClaimHash = "h"
	in.SocialClaimHash = ""
	expectViolation(t, v.Validate(in), ErrClaimHashMismatch, SideSocial)
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("relaxed"); err != nil || p != PolicyRelaxed {
		t.Errorf("ParsePolicy(relaxed) = %v, %v", p, err)
	}

	if p, err := ParsePolicy(""); err != nil || p != PolicyStrict {
		t.Errorf("ParsePolicy(\"\") = %v, %v", p, err)
	}

	if _, err := ParsePolicy("loose"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

// TestValidate_AttestationVerifier tests the hardened trust boundary.
func TestValidate_AttestationVerifier(t *testing.T) {
	upstream, err := bls.Derive([]byte("upstream verifier"), nil, []byte("attestations"))
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}

	verifier, err := NewAttestationVerifier(upstream.PublicKey())
	if err != nil {
		t.Fatalf("create verifier: %v", err)
	}

	v := NewValidator(PolicyStrict, verifier)

	in := validInput()
	expectViolation(t, v.Validate(in), ErrProofUnverified, SideGeneration)

	in.Attestations.Generation = Attest(upstream, SideGeneration, in.Generation.Proof, in.Generation.PublicSignals)
	expectViolation(t, v.Validate(in), ErrProofUnverified, SideSocial)

	// An attestation for the other side must not be accepted.
	in.Attestations.Social = in.Attestations.Generation
	expectViolation(t, v.Validate(in), ErrProofUnverified, SideSocial)

	in.Attestations.Social = Attest(upstream, SideSocial, in.Social.Proof, in.Social.PublicSignals)
	if err := v.Validate(in); err != nil {
		t.Fatalf("attested input rejected: %v", err)
	}

	// Tampering with a signal invalidates the attestation.
	in.Social.PublicSignals = []string{"6"}
	expectViolation(t, v.Validate(in), ErrProofUnverified, SideSocial)
}

func TestNewAttestationVerifier_InvalidKey(t *testing.T) {
	if _, err := NewAttestationVerifier([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for invalid key")
	}
}

// TestAttestationDigest_FieldBoundaries tests that concatenation ambiguity changes the digest.
func TestAttestationDigest_FieldBoundaries(t *testing.T) {
	a := AttestationDigest(SideGeneration, "p", []string{"ab", "c"})
	b := AttestationDigest(SideGeneration, "p", []string{"a", "bc"})

	if a == b {
		t.Error("different signal splits produced the same digest")
	}
}
