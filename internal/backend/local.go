package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zkbind/internal/bls"
	"zkbind/internal/logger"
)

const (
	// DefaultCycleLimit bounds a single execution.
	DefaultCycleLimit = 1 << 32

	// keySalt is the HKDF salt of proving key derivation.
	keySalt = "zkbind-prover-v1"
)

// ErrForeignKey is returned when a proving key was not derived by this backend.
var ErrForeignKey = errors.New("proving key not derived by this backend")

// Local proves in process. Proofs are attestations: the prover signs the
// public values of an execution with a BLS key derived from the operator
// secret and the program hash, framed according to the requested encoding.
type Local struct {
	machine    Machine // machine runs program images
	secret     []byte  // secret is the operator key derivation secret
	cycleLimit uint64  // cycleLimit bounds each execution
}

// LocalConfig holds the configuration of a Local backend.
type LocalConfig struct {
	Machine    Machine // Machine runs program images
	Secret     []byte  // Secret seeds proving key derivation
	CycleLimit uint64  // CycleLimit bounds each execution, DefaultCycleLimit if zero
}

// NewLocal creates a local backend.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.Machine == nil {
		return nil, fmt.Errorf("machine is required")
	}

	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("prover secret is required")
	}

	limit := cfg.CycleLimit
	if limit == 0 {
		limit = DefaultCycleLimit
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Local{
		machine:    cfg.Machine,
		secret:     secret,
		cycleLimit: limit,
	}, nil
}

// Name returns "local".
func (l *Local) Name() string {
	return "local"
}

// Setup loads the program and derives its keys.
func (l *Local) Setup(ctx context.Context, program *Program) (*ProvingKey, *VerifyingKey, error) {
	start := time.Now()

	if err := l.machine.Load(ctx, program); err != nil {
		return nil, nil, fmt.Errorf("load program:\n%w", err)
	}

	signer, err := bls.Derive(l.secret, []byte(keySalt), program.Hash[:])
	if err != nil {
		return nil, nil, fmt.Errorf("derive proving key:\n%w", err)
	}

	vk := &VerifyingKey{
		ProgramHash: program.Hash,
		PublicKey:   signer.PublicKey(),
	}

	logger.Debug("key setup done", "program", program.Name, logger.Timed(start))

	return &ProvingKey{Program: program, VerifyingKey: vk, signer: signer}, vk, nil
}

// Execute runs the program without proving.
func (l *Local) Execute(ctx context.Context, program *Program, stdin []byte) (*Execution, error) {
	out, cycles, err := l.machine.Run(ctx, program, stdin, l.cycleLimit)
	if err != nil {
		return nil, fmt.Errorf("execute %s:\n%w", program.Name, err)
	}

	return &Execution{
		PublicValues: out,
		Report:       CostReport{Cycles: cycles},
	}, nil
}

// Prove executes the program and seals its public values.
func (l *Local) Prove(ctx context.Context, pk *ProvingKey, stdin []byte, encoding Encoding) (*ProofArtifact, error) {
	if pk == nil || pk.signer == nil {
		return nil, ErrForeignKey
	}

	if !encoding.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEncoding, encoding)
	}

	exec, err := l.Execute(ctx, pk.Program, stdin)
	if err != nil {
		return nil, err
	}

	proof, err := sealProof(pk.signer, pk.VerifyingKey, encoding, exec.PublicValues)
	if err != nil {
		return nil, fmt.Errorf("seal proof:\n%w", err)
	}

	logger.Debug("proof generated",
		"program", pk.Program.Name,
		"encoding", encoding,
		"cycles", exec.Report.Cycles,
		"bytes", len(proof),
	)

	return &ProofArtifact{
		Encoding:     encoding,
		Proof:        proof,
		PublicValues: exec.PublicValues,
	}, nil
}

// Close releases the machine.
func (l *Local) Close() error {
	return l.machine.Close()
}
