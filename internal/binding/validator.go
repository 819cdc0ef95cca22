package binding

import (
	"fmt"

	"zkbind/internal/request"
)

// Fixed claim ranges. Both bounds are inclusive.
const (
	MinGenerationID = 0
	MaxGenerationID = 4
	MinSocialLevel  = 1
	MaxSocialLevel  = 100
)

// Policy selects how the two claim hashes bind the proofs together.
type Policy uint8

const (
	// PolicyStrict requires both circuits to have produced the same claim hash.
	PolicyStrict Policy = iota

	// PolicyRelaxed only requires both claim hashes to be present. Binding then
	// rests on the shared nullifier and session nonce alone.
	PolicyRelaxed
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	if p == PolicyRelaxed {
		return "relaxed"
	}

	return "strict"
}

// ParsePolicy converts a configuration name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "strict":
		return PolicyStrict, nil
	case "relaxed":
		return PolicyRelaxed, nil
	default:
		return PolicyStrict, fmt.Errorf("unknown binding policy %q", name)
	}
}

// Validator checks that two proofs may be aggregated into one session.
// It is immutable and safe for concurrent use.
type Validator struct {
	policy   Policy   // policy is the claim-hash binding policy
	verifier Verifier // verifier checks each proof once the structure is sound
}

// NewValidator creates a validator. A nil verifier selects StructuralVerifier.
func NewValidator(policy Policy, verifier Verifier) *Validator {
	if verifier == nil {
		verifier = StructuralVerifier{}
	}

	return &Validator{policy: policy, verifier: verifier}
}

// Policy returns the claim-hash policy in force.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate applies the binding rules in a fixed order and returns the first violation.
func Validate(in *request.AggregationInput) error {
	return NewValidator(PolicyStrict, nil).Validate(in)
}

// Validate applies the binding rules in a fixed order and returns the first violation.
func (v *Validator) Validate(in *request.AggregationInput) error {
	if err := checkStructure(in); err != nil {
		return err
	}

	if err := v.checkClaimHashes(in); err != nil {
		return err
	}

	return v.checkProofs(in)
}

// checkStructure enforces non-emptiness and the claim ranges.
func checkStructure(in *request.AggregationInput) error {
	if in.Generation.Proof == "" {
		return violation(ErrEmptyProof, SideGeneration, "")
	}

	if in.Social.Proof == "" {
		return violation(ErrEmptyProof, SideSocial, "")
	}

	if len(in.Generation.PublicSignals) == 0 {
		return violation(ErrEmptySignals, SideGeneration, "")
	}

	if len(in.Social.PublicSignals) == 0 {
		return violation(ErrEmptySignals, SideSocial, "")
	}

	if in.SelfNullifier == "" {
		return violation(ErrEmptyNullifier, SideNone, "")
	}

	if in.SessionNonce == "" {
		return violation(ErrEmptySessionNonce, SideNone, "")
	}

	if in.TargetGenerationID > MaxGenerationID {
		return violation(ErrGenerationIDOutOfRange, SideNone,
			fmt.Sprintf("got %d, want %d..%d", in.TargetGenerationID, MinGenerationID, MaxGenerationID))
	}

	if in.MinVerifiedNeeded < MinSocialLevel || in.MinVerifiedNeeded > MaxSocialLevel {
		return violation(ErrSocialLevelOutOfRange, SideNone,
			fmt.Sprintf("got %d, want %d..%d", in.MinVerifiedNeeded, MinSocialLevel, MaxSocialLevel))
	}

	return nil
}

func (v *Validator) checkClaimHashes(in *request.AggregationInput) error {
	switch v.policy {
	case PolicyRelaxed:
		if in.GenerationClaimHash == "" {
			return violation(ErrClaimHashMismatch, SideGeneration, "empty claim hash")
		}

		if in.SocialClaimHash == "" {
			return violation(ErrClaimHashMismatch, SideSocial, "empty claim hash")
		}

	default:
		if in.GenerationClaimHash != in.SocialClaimHash {
			return violation(ErrClaimHashMismatch, SideNone, "")
		}
	}

	return nil
}

// checkProofs delegates cryptographic acceptance of each proof to the verifier.
func (v *Validator) checkProofs(in *request.AggregationInput) error {
	sides := []struct {
		side        Side
		payload     request.ProofPayload
		attestation []byte
	}{
		{SideGeneration, in.Generation, in.Attestations.Generation},
		{SideSocial, in.Social, in.Attestations.Social},
	}

	for _, s := range sides {
		ok, err := v.verifier.Verify(Claim{
			Side:          s.side,
			Proof:         s.payload.Proof,
			PublicSignals: s.payload.PublicSignals,
			Attestation:   s.attestation,
		})
		if err != nil {
			return violation(ErrProofUnverified, s.side, err.Error())
		}

		if !ok {
			return violation(ErrProofUnverified, s.side, "")
		}
	}

	return nil
}
