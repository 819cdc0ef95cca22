package request

// ProofPayload is one upstream proof in canonical form.
type ProofPayload struct {
	Proof         string   // Proof is the serialized proof as received or re-serialized
	PublicSignals []string // PublicSignals are the proof's public signals in circuit order
}

// Attestations carries optional upstream verifier signatures over each proof.
type Attestations struct {
	Generation []byte // Generation attests the generation-eligibility proof
	Social     []byte // Social attests the social-verification proof
}

// AggregationInput is the canonical aggregation request.
// It is never mutated after Normalize returns it.
type AggregationInput struct {
	Generation ProofPayload // Generation is the generation-eligibility proof
	Social     ProofPayload // Social is the social-verification proof

	SessionNonce string // SessionNonce is unique per aggregation attempt
	VerifiedRoot string // VerifiedRoot identifies the externally verified membership root

	MinVerifiedNeeded  uint32 // MinVerifiedNeeded is the claimed social threshold
	TargetGenerationID uint32 // TargetGenerationID is the claimed eligibility tier

	SelfNullifier       string // SelfNullifier is the one-time identity commitment
	GenerationClaimHash string // GenerationClaimHash binds the generation proof to the session
	SocialClaimHash     string // SocialClaimHash binds the social proof to the session

	Attestations Attestations // Attestations are optional upstream verifier signatures
}
