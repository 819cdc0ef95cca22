// Package backend defines the proof backend contract and the local backend.
//
// A backend runs a program image over a canonical input. Execute is a
// deterministic dry run that reports cost and public output; Prove produces a
// proof artifact in one of several encodings after a one-time key setup.
package backend

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownTarget is returned when parsing an unknown network tier name.
	ErrUnknownTarget = errors.New("unknown backend target")

	// ErrUnknownEncoding is returned when parsing an unknown proof encoding name.
	ErrUnknownEncoding = errors.New("unknown proof encoding")
)

// Target selects where proving happens.
type Target uint8

const (
	TargetLocal    Target = iota // TargetLocal proves in this process
	TargetReserved               // TargetReserved proves on the reserved-capacity network tier
	TargetMainnet                // TargetMainnet proves on the public network tier
)

// Targets lists every target in declaration order.
var Targets = []Target{TargetLocal, TargetReserved, TargetMainnet}

// String returns the CLI name of the target.
func (t Target) String() string {
	switch t {
	case TargetLocal:
		return "local"
	case TargetReserved:
		return "reserved"
	case TargetMainnet:
		return "mainnet"
	default:
		return fmt.Sprintf("target(%d)", uint8(t))
	}
}

// ParseTarget converts a CLI name to a Target.
func ParseTarget(name string) (Target, error) {
	for _, t := range Targets {
		if t.String() == name {
			return t, nil
		}
	}

	return TargetLocal, fmt.Errorf("%w: %q", ErrUnknownTarget, name)
}

// Encoding is the format of a generated proof.
type Encoding uint8

const (
	EncodingCore       Encoding = iota // EncodingCore is the fast, uncompressed form
	EncodingCompressed                 // EncodingCompressed is the size-reduced core form
	EncodingGroth16                    // EncodingGroth16 is the on-chain verifiable Groth16 form
	EncodingPlonk                      // EncodingPlonk is the on-chain verifiable PLONK form
)

// Encodings lists every encoding in declaration order.
var Encodings = []Encoding{EncodingCore, EncodingCompressed, EncodingGroth16, EncodingPlonk}

// String returns the CLI name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingCore:
		return "core"
	case EncodingCompressed:
		return "compressed"
	case EncodingGroth16:
		return "groth16"
	case EncodingPlonk:
		return "plonk"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// OnChain reports whether proofs in this encoding are verified on chain,
// which requires the fixed 32-byte verifying key digest.
func (e Encoding) OnChain() bool {
	return e == EncodingGroth16 || e == EncodingPlonk
}

// Valid reports whether e is a known encoding.
func (e Encoding) Valid() bool {
	return e <= EncodingPlonk
}

// ParseEncoding converts a CLI name to an Encoding.
func ParseEncoding(name string) (Encoding, error) {
	for _, e := range Encodings {
		if e.String() == name {
			return e, nil
		}
	}

	return EncodingCore, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
}

// CostReport summarizes the work done by one execution.
type CostReport struct {
	Cycles uint64 // Cycles is the metered instruction count
}

// TotalInstructionCount returns the metered instruction count.
func (r CostReport) TotalInstructionCount() uint64 {
	return r.Cycles
}

// Execution is the result of a dry run.
type Execution struct {
	PublicValues []byte     // PublicValues are the values committed by the program
	Report       CostReport // Report is the execution cost
}

// ProofArtifact is a generated proof with the public values it attests.
type ProofArtifact struct {
	Encoding     Encoding // Encoding is the proof format
	Proof        []byte   // Proof is the encoded proof
	PublicValues []byte   // PublicValues are the values committed by the program
}

// Backend is a proof backend. Implementations must be safe for concurrent use
// and must not retry failed operations.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Setup derives the proving and verifying keys of a program.
	Setup(ctx context.Context, program *Program) (*ProvingKey, *VerifyingKey, error)

	// Execute runs the program over stdin without proving.
	Execute(ctx context.Context, program *Program, stdin []byte) (*Execution, error)

	// Prove runs the program over stdin and proves the execution.
	Prove(ctx context.Context, pk *ProvingKey, stdin []byte, encoding Encoding) (*ProofArtifact, error)

	// Close releases the backend's resources.
	Close() error
}
