// Package response assembles the output contract of an aggregation.
package response

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"zkbind/internal/backend"
	"zkbind/internal/orchestrator"
	"zkbind/internal/request"
)

// PlaceholderProof is returned in place of a proof by dry runs.
const PlaceholderProof = "mock-proof-execute-mode"

// ZeroVKHash is the verifying key hash of dry runs, which have no key.
const ZeroVKHash = "0x0000000000000000000000000000000000000000000000000000000000000000"

// Metadata is the public projection of the validated input.
type Metadata struct {
	SelfNullifier string `json:"self_nullifier"`
	GenerationID  uint32 `json:"generation_id"`
	SocialLevel   uint32 `json:"social_level"`
	ClaimHash     string `json:"claim_hash"`
}

// ProverResponse is the output contract. Binary fields encode as base64.
type ProverResponse struct {
	Proof        []byte   `json:"proof"`
	PublicValues []byte   `json:"public_values"`
	VKHash       string   `json:"vk_hash"`
	Metadata     Metadata `json:"metadata"`
}

// Build assembles the response of a dispatch.
// On-chain encodings carry the 32-byte verifying key digest; every other
// encoding carries the native key hash.
func Build(res *orchestrator.Result, in *request.AggregationInput) *ProverResponse {
	resp := &ProverResponse{
		PublicValues: res.PublicValues,
		Metadata:     Project(in),
	}

	if res.Mode == orchestrator.ModeExecute || res.VerifyingKey == nil {
		resp.Proof = []byte(PlaceholderProof)
		resp.VKHash = ZeroVKHash

		return resp
	}

	resp.Proof = res.Proof
	resp.VKHash = KeyHash(res.VerifyingKey, res.Encoding)

	return resp
}

// KeyHash returns the 0x-hex hash of a verifying key as carried by proofs of
// an encoding.
func KeyHash(vk *backend.VerifyingKey, encoding backend.Encoding) string {
	if encoding.OnChain() {
		digest := vk.Bytes32()
		return hexutil.Encode(digest[:])
	}

	return hexutil.Encode(vk.HashBytes())
}

// Project copies the committed fields of the input.
func Project(in *request.AggregationInput) Metadata {
	return Metadata{
		SelfNullifier: in.SelfNullifier,
		GenerationID:  in.TargetGenerationID,
		SocialLevel:   in.MinVerifiedNeeded,
		ClaimHash:     in.GenerationClaimHash,
	}
}

// Write pretty-prints the response as JSON followed by a newline.
func Write(w io.Writer, resp *ProverResponse) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response:\n%w", err)
	}

	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write response:\n%w", err)
	}

	return nil
}
