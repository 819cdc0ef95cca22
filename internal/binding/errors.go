package binding

import (
	"errors"
	"fmt"
)

// Side names which of the two aggregated proofs an error refers to.
type Side uint8

const (
	SideNone       Side = iota // SideNone is used by errors not tied to a proof
	SideGeneration             // SideGeneration is the generation-eligibility proof
	SideSocial                 // SideSocial is the social-verification proof
)

// String returns the JSON field name of the side.
func (s Side) String() string {
	switch s {
	case SideGeneration:
		return "generation"
	case SideSocial:
		return "social"
	default:
		return ""
	}
}

// Sentinel kinds. Every *Error matches exactly one of them with errors.Is.
var (
	ErrEmptyProof             = errors.New("empty proof")
	ErrEmptySignals           = errors.New("empty public signals")
	ErrEmptyNullifier         = errors.New("empty self nullifier")
	ErrEmptySessionNonce      = errors.New("empty session nonce")
	ErrGenerationIDOutOfRange = errors.New("target generation id out of range")
	ErrSocialLevelOutOfRange  = errors.New("min verified needed out of range")
	ErrClaimHashMismatch      = errors.New("claim hash mismatch")
	ErrProofUnverified        = errors.New("proof not verified")
)

// Error is a violated binding invariant.
type Error struct {
	Kind   error  // Kind is one of the package sentinel errors
	Side   Side   // Side is set for proof-specific violations
	Detail string // Detail carries the offending value when useful
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Side != SideNone {
		msg = fmt.Sprintf("%s: %s", e.Side, msg)
	}

	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}

	return "binding: " + msg
}

// Unwrap returns the sentinel kind.
func (e *Error) Unwrap() error {
	return e.Kind
}

func violation(kind error, side Side, detail string) *Error {
	return &Error{Kind: kind, Side: side, Detail: detail}
}
