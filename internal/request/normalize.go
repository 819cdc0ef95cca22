package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// publicSignalsKey is the conventional key holding public signals in a proof object.
const publicSignalsKey = "publicSignals"

// ErrMalformedInput is matched by every MalformedInputError.
var ErrMalformedInput = errors.New("malformed input")

// MalformedInputError reports a request that could not be normalized.
type MalformedInputError struct {
	Field string // Field is the offending JSON field, empty for the whole document
	Err   error  // Err is the underlying cause
}

func (e *MalformedInputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed input: %v", e.Err)
	}

	return fmt.Sprintf("malformed input: %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying cause.
func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMalformedInput.
func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

func malformed(field string, err error) error {
	return &MalformedInputError{Field: field, Err: err}
}

// Load reads the request file at path and normalizes it.
func Load(path string) (*AggregationInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input file %s:\n%w", path, err)
	}

	return Normalize(raw)
}

// Normalize parses a raw JSON request into an AggregationInput.
// Missing public signals never fail here; they are rejected by validation.
func Normalize(raw []byte) (*AggregationInput, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, malformed("", err)
	}

	if fields == nil {
		return nil, malformed("", errors.New("expected a JSON object"))
	}

	in := &AggregationInput{}

	var err error

	if in.Generation, err = parseProof(fields, "generation"); err != nil {
		return nil, err
	}

	if in.Social, err = parseProof(fields, "social"); err != nil {
		return nil, err
	}

	textFields := []struct {
		name string
		dst  *string
	}{
		{"session_nonce", &in.SessionNonce},
		{"verified_root", &in.VerifiedRoot},
		{"self_nullifier", &in.SelfNullifier},
		{"generation_claim_hash", &in.GenerationClaimHash},
		{"social_claim_hash", &in.SocialClaimHash},
	}

	for _, s := range textFields {
		if *s.dst, err = parseString(fields, s.name); err != nil {
			return nil, err
		}
	}

	if in.MinVerifiedNeeded, err = parseUint32(fields, "min_verified_needed"); err != nil {
		return nil, err
	}

	if in.TargetGenerationID, err = parseUint32(fields, "target_generation_id"); err != nil {
		return nil, err
	}

	if in.Attestations, err = parseAttestations(fields); err != nil {
		return nil, err
	}

	return in, nil
}

// parseProof accepts either a structured proof object or a pre-serialized string.
func parseProof(fields map[string]json.RawMessage, name string) (ProofPayload, error) {
	raw, ok := fields[name]
	if !ok {
		return ProofPayload{}, malformed(name, errors.New("missing field"))
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ProofPayload{}, malformed(name, errors.New("missing field"))
	}

	switch raw[0] {
	case '{':
		obj, err := decodeObject(raw)
		if err != nil {
			return ProofPayload{}, malformed(name, err)
		}

		return proofFromObject(obj, name)

	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ProofPayload{}, malformed(name, err)
		}

		payload := ProofPayload{Proof: s, PublicSignals: []string{}}

		// A serialized object may still carry its signals.
		if obj, err := decodeObject([]byte(s)); err == nil {
			signals, err := extractSignals(obj, name)
			if err != nil {
				return ProofPayload{}, err
			}
			payload.PublicSignals = signals
		}

		return payload, nil

	default:
		return ProofPayload{}, malformed(name, errors.New("expected an object or a string"))
	}
}

// proofFromObject re-serializes the whole object as the canonical proof string.
func proofFromObject(obj map[string]any, name string) (ProofPayload, error) {
	signals, err := extractSignals(obj, name)
	if err != nil {
		return ProofPayload{}, err
	}

	canonical, err := json.Marshal(obj)
	if err != nil {
		return ProofPayload{}, malformed(name, err)
	}

	return ProofPayload{Proof: string(canonical), PublicSignals: signals}, nil
}

// extractSignals reads the public-signal list, defaulting to empty when absent.
func extractSignals(obj map[string]any, name string) ([]string, error) {
	field := name + "." + publicSignalsKey

	value, ok := obj[publicSignalsKey]
	if !ok || value == nil {
		return []string{}, nil
	}

	list, ok := value.([]any)
	if !ok {
		return nil, malformed(field, errors.New("expected an array"))
	}

	signals := make([]string, 0, len(list))

	for i, item := range list {
		switch v := item.(type) {
		case string:
			signals = append(signals, v)
		case json.Number:
			signals = append(signals, v.String())
		default:
			return nil, malformed(fmt.Sprintf("%s[%d]", field, i), errors.New("expected a string or number"))
		}
	}

	return signals, nil
}

// decodeObject decodes a JSON object keeping numbers in their literal form.
func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}

	if obj == nil {
		return nil, errors.New("expected an object")
	}

	return obj, nil
}

func parseString(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", malformed(name, errors.New("missing field"))
	}

	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", malformed(name, errors.New("expected a string"))
	}

	if s == nil {
		return "", malformed(name, errors.New("expected a string"))
	}

	return *s, nil
}

func parseUint32(fields map[string]json.RawMessage, name string) (uint32, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, malformed(name, errors.New("missing field"))
	}

	// json.Number also decodes quoted numbers.
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '"' {
		return 0, malformed(name, errors.New("expected an integer"))
	}

	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil || n == "" {
		return 0, malformed(name, errors.New("expected an integer"))
	}

	v, err := strconv.ParseUint(n.String(), 10, 32)
	if err != nil {
		return 0, malformed(name, fmt.Errorf("expected an unsigned 32-bit integer, got %s", n))
	}

	return uint32(v), nil
}

// parseAttestations decodes the optional 0x-hex attestation pair.
func parseAttestations(fields map[string]json.RawMessage) (Attestations, error) {
	raw, ok := fields["attestations"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Attestations{}, nil
	}

	var hexes struct {
		Generation string `json:"generation"`
		Social     string `json:"social"`
	}

	if err := json.Unmarshal(raw, &hexes); err != nil {
		return Attestations{}, malformed("attestations", err)
	}

	var att Attestations

	var err error

	if hexes.Generation != "" {
		if att.Generation, err = hexutil.Decode(hexes.Generation); err != nil {
			return Attestations{}, malformed("attestations.generation", err)
		}
	}

	if hexes.Social != "" {
		if att.Social, err = hexutil.Decode(hexes.Social); err != nil {
			return Attestations{}, malformed("attestations.social", err)
		}
	}

	return att, nil
}
