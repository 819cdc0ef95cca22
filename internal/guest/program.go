// Package guest holds the aggregator program: the code a proof backend runs
// over the canonical input to produce the committed public values.
//
// The same Run function backs the in-process native machine and the WASM
// build under programs/aggregator, so both produce identical public values.
package guest

import (
	"errors"
	"fmt"
)

// Per-step costs charged to the meter.
const (
	costDecodeByte = 1  // costDecodeByte is charged per input byte
	costCheck      = 10 // costCheck is charged per assertion
	costCommitByte = 2  // costCommitByte is charged per committed byte
)

// ErrAssertion is returned when the input violates a program assertion.
var ErrAssertion = errors.New("program assertion failed")

// Meter is charged for the work the program performs.
// A machine enforcing a cycle limit aborts execution from inside the meter.
type Meter func(cost uint32)

// Run executes the aggregator program over stdin and returns the public values.
//
// The program re-checks structural soundness of both proofs and the claim-hash
// binding. It does not verify the Groth16 proofs themselves.
func Run(stdin []byte, meter Meter) ([]byte, error) {
	if meter == nil {
		meter = func(uint32) {}
	}

	meter(uint32(len(stdin)) * costDecodeByte)

	in, err := DecodeInput(stdin)
	if err != nil {
		return nil, fmt.Errorf("decode input:\n%w", err)
	}

	if err := check(in, meter); err != nil {
		return nil, err
	}

	public := EncodePublicValues(Project(in))
	meter(uint32(len(public)) * costCommitByte)

	return public, nil
}

// Project returns the signals committed for an input.
func Project(in *Input) *AggregatedSignals {
	return &AggregatedSignals{
		SelfNullifier: in.SelfNullifier,
		GenerationID:  in.TargetGenerationID,
		SocialLevel:   in.MinVerifiedNeeded,
		ClaimHash:     in.GenerationClaimHash,
	}
}

func check(in *Input, meter Meter) error {
	assertions := []struct {
		ok  bool
		msg string
	}{
		{in.Generation.Proof != "" && len(in.Generation.PublicSignals) > 0, "generation proof is empty"},
		{in.Social.Proof != "" && len(in.Social.PublicSignals) > 0, "social proof is empty"},
		{in.SelfNullifier != "", "self nullifier is empty"},
		{in.SessionNonce != "", "session nonce is empty"},
		{claimsBound(in), "claim hashes must match across generation and social proofs"},
	}

	for _, a := range assertions {
		meter(costCheck)

		if !a.ok {
			return fmt.Errorf("%w: %s", ErrAssertion, a.msg)
		}
	}

	return nil
}

func claimsBound(in *Input) bool {
	if in.Binding == BindingRelaxed {
		return in.GenerationClaimHash != "" && in.SocialClaimHash != ""
	}

	return in.GenerationClaimHash == in.SocialClaimHash
}
