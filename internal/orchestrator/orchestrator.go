// Package orchestrator selects a proof backend and drives execution or proving
// of the aggregator program over a validated input.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"zkbind/internal/backend"
	"zkbind/internal/binding"
	"zkbind/internal/guest"
	"zkbind/internal/logger"
	"zkbind/internal/request"
)

// Mode selects a dry run or a real proof.
type Mode uint8

const (
	ModeExecute Mode = iota // ModeExecute runs the program without proving
	ModeProve               // ModeProve runs the program and proves it
)

// String returns the name of the mode.
func (m Mode) String() string {
	if m == ModeProve {
		return "prove"
	}

	return "execute"
}

// Resolver connects to the backend of a remote target.
type Resolver func(ctx context.Context) (backend.Backend, error)

// Config holds the configuration of an Orchestrator.
type Config struct {
	Program *backend.Program            // Program is the aggregator image
	Local   backend.Backend             // Local runs executions and local proofs
	Remotes map[backend.Target]Resolver // Remotes resolve the network tiers
	Policy  binding.Policy              // Policy is enforced again by the program
}

// Result is the outcome of one dispatch.
type Result struct {
	Mode         Mode                  // Mode is the dispatch mode
	Target       backend.Target        // Target is where the work ran
	Encoding     backend.Encoding      // Encoding is the proof encoding, unset for executions
	PublicValues []byte                // PublicValues are the values committed by the program
	Report       backend.CostReport    // Report is the execution cost, unset for proofs
	Proof        []byte                // Proof is the encoded proof, nil for executions
	VerifyingKey *backend.VerifyingKey // VerifyingKey verifies Proof, nil for executions
}

// keys is the setup output of one target.
type keys struct {
	pk *backend.ProvingKey
	vk *backend.VerifyingKey
}

// Orchestrator dispatches requests to backends. It is safe for concurrent use.
// Backend handles and proving keys are created once and shared.
type Orchestrator struct {
	program *backend.Program // program is the aggregator image
	policy  binding.Policy   // policy selects the program's binding check
	local   backend.Backend  // local runs executions, immutable after New

	resolvers map[backend.Target]Resolver        // resolvers connect remote targets
	backends  map[backend.Target]backend.Backend // backends are connected remote handles
	keys      map[backend.Target]*keys           // keys caches setup per target
	closed    bool                               // closed is set by Close
	mu        sync.Mutex                         // mu protects backends, keys and closed

	// base outlives any single request and bounds shared connects and setups.
	base   context.Context
	cancel context.CancelFunc
	group  singleflight.Group // group shares in-flight connects and setups
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Program == nil {
		return nil, fmt.Errorf("program is required")
	}

	if cfg.Local == nil {
		return nil, fmt.Errorf("local backend is required")
	}

	resolvers := make(map[backend.Target]Resolver, len(cfg.Remotes))
	for target, r := range cfg.Remotes {
		if target == backend.TargetLocal || r == nil {
			continue
		}

		resolvers[target] = r
	}

	base, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		program:   cfg.Program,
		policy:    cfg.Policy,
		local:     cfg.Local,
		resolvers: resolvers,
		backends:  make(map[backend.Target]backend.Backend),
		keys:      make(map[backend.Target]*keys),
		base:      base,
		cancel:    cancel,
	}, nil
}

// Program returns the aggregator image.
func (o *Orchestrator) Program() *backend.Program {
	return o.program
}

// Available reports whether a target can be dispatched to.
func (o *Orchestrator) Available(target backend.Target) bool {
	if target == backend.TargetLocal {
		return true
	}

	_, ok := o.resolvers[target]

	return ok
}

// Dispatch executes or proves the program over a validated input.
// Executions always run on the local backend; target and encoding only apply
// to proofs.
func (o *Orchestrator) Dispatch(ctx context.Context, in *request.AggregationInput, mode Mode, target backend.Target, encoding backend.Encoding) (*Result, error) {
	stdin := CanonicalInput(in, o.policy)

	if mode == ModeExecute {
		return o.execute(ctx, stdin)
	}

	if !encoding.Valid() {
		return nil, fmt.Errorf("%w: %d", backend.ErrUnknownEncoding, encoding)
	}

	return o.prove(ctx, stdin, target, encoding)
}

func (o *Orchestrator) execute(ctx context.Context, stdin []byte) (*Result, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}

	start := time.Now()

	exec, err := o.local.Execute(ctx, o.program, stdin)
	if err != nil {
		return nil, &BackendError{Backend: o.local.Name(), Op: "execute", Err: err}
	}

	logger.Info("program executed",
		"cycles", exec.Report.TotalInstructionCount(),
		logger.Timed(start),
	)

	return &Result{
		Mode:         ModeExecute,
		Target:       backend.TargetLocal,
		PublicValues: exec.PublicValues,
		Report:       exec.Report,
	}, nil
}

func (o *Orchestrator) prove(ctx context.Context, stdin []byte, target backend.Target, encoding backend.Encoding) (*Result, error) {
	b, err := o.Backend(ctx, target)
	if err != nil {
		return nil, err
	}

	k, err := o.setup(ctx, target, b)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	artifact, err := b.Prove(ctx, k.pk, stdin, encoding)
	if err != nil {
		return nil, &BackendError{Backend: b.Name(), Op: "prove", Err: err}
	}

	logger.Info("proof generated",
		"target", target,
		"encoding", encoding,
		"bytes", len(artifact.Proof),
		logger.Timed(start),
	)

	return &Result{
		Mode:         ModeProve,
		Target:       target,
		Encoding:     artifact.Encoding,
		PublicValues: artifact.PublicValues,
		Proof:        artifact.Proof,
		VerifyingKey: k.vk,
	}, nil
}

// Backend returns the backend of a target, connecting to it on first use.
func (o *Orchestrator) Backend(ctx context.Context, target backend.Target) (backend.Backend, error) {
	o.mu.Lock()
	closed := o.closed
	b := o.backends[target]
	o.mu.Unlock()

	switch {
	case closed:
		return nil, ErrClosed
	case target == backend.TargetLocal:
		return o.local, nil
	case b != nil:
		return b, nil
	}

	resolve, ok := o.resolvers[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTargetUnavailable, target)
	}

	v, _, err := o.share(ctx, "connect/"+target.String(), func(base context.Context) (any, error) {
		o.mu.Lock()
		existing := o.backends[target]
		o.mu.Unlock()

		if existing != nil {
			return existing, nil
		}

		b, err := resolve(base)
		if err != nil {
			return nil, &BackendError{Backend: "remote-" + target.String(), Op: "connect", Err: err}
		}

		o.mu.Lock()
		defer o.mu.Unlock()

		if o.closed {
			b.Close()
			return nil, ErrClosed
		}

		o.backends[target] = b

		return b, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(backend.Backend), nil
}

// setup returns the cached keys of a target, running setup once.
func (o *Orchestrator) setup(ctx context.Context, target backend.Target, b backend.Backend) (*keys, error) {
	o.mu.Lock()
	k := o.keys[target]
	o.mu.Unlock()

	if k != nil {
		return k, nil
	}

	v, shared, err := o.share(ctx, "setup/"+target.String(), func(base context.Context) (any, error) {
		o.mu.Lock()
		cached := o.keys[target]
		o.mu.Unlock()

		if cached != nil {
			return cached, nil
		}

		start := time.Now()

		pk, vk, err := b.Setup(base, o.program)
		if err != nil {
			return nil, &BackendError{Backend: b.Name(), Op: "setup", Err: err}
		}

		k := &keys{pk: pk, vk: vk}

		o.mu.Lock()
		o.keys[target] = k
		o.mu.Unlock()

		logger.Info("proving key ready", "target", target, "program", o.program.Name, logger.Timed(start))

		return k, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		logger.Debug("shared key setup", "target", target)
	}

	return v.(*keys), nil
}

// share runs fn once per key under the orchestrator's lifetime context.
// The caller stops waiting when ctx is done; the shared work keeps running
// for the other callers.
func (o *Orchestrator) share(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, bool, error) {
	ch := o.group.DoChan(key, func() (any, error) {
		return fn(o.base)
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// VerifyingKey returns the verifying key of a target, running setup if needed.
func (o *Orchestrator) VerifyingKey(ctx context.Context, target backend.Target) (*backend.VerifyingKey, error) {
	b, err := o.Backend(ctx, target)
	if err != nil {
		return nil, err
	}

	k, err := o.setup(ctx, target, b)
	if err != nil {
		return nil, err
	}

	return k.vk, nil
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.closed
}

// Close cancels shared work and closes the local and every connected backend.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}

	o.closed = true
	o.cancel()

	var firstErr error

	if err := o.local.Close(); err != nil {
		firstErr = fmt.Errorf("close %s backend:\n%w", backend.TargetLocal, err)
	}

	for target, b := range o.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s backend:\n%w", target, err)
		}

		delete(o.backends, target)
	}

	return firstErr
}

// CanonicalInput encodes the program stdin for an input under a policy.
func CanonicalInput(in *request.AggregationInput, policy binding.Policy) []byte {
	mode := byte(guest.BindingStrict)
	if policy == binding.PolicyRelaxed {
		mode = guest.BindingRelaxed
	}

	return guest.EncodeInput(&guest.Input{
		Binding:             mode,
		Generation:          guest.Proof{Proof: in.Generation.Proof, PublicSignals: in.Generation.PublicSignals},
		Social:              guest.Proof{Proof: in.Social.Proof, PublicSignals: in.Social.PublicSignals},
		SessionNonce:        in.SessionNonce,
		VerifiedRoot:        in.VerifiedRoot,
		MinVerifiedNeeded:   in.MinVerifiedNeeded,
		TargetGenerationID:  in.TargetGenerationID,
		SelfNullifier:       in.SelfNullifier,
		GenerationClaimHash: in.GenerationClaimHash,
		SocialClaimHash:     in.SocialClaimHash,
	})
}
