// Package service runs the aggregation pipeline:
// normalize -> validate -> replay check -> dispatch -> record spend -> build.
package service

import (
	"context"
	"errors"
	"fmt"

	"zkbind/internal/backend"
	"zkbind/internal/binding"
	"zkbind/internal/logger"
	"zkbind/internal/orchestrator"
	"zkbind/internal/replay"
	"zkbind/internal/request"
	"zkbind/internal/response"
)

// Kind classifies pipeline errors for callers that map them to statuses.
type Kind string

const (
	KindMalformedInput Kind = "malformed_input" // KindMalformedInput is an unparseable request
	KindBinding        Kind = "binding"         // KindBinding is a binding rule violation
	KindReplay         Kind = "replay"          // KindReplay is a spent nullifier or reused nonce
	KindUnavailable    Kind = "unavailable"     // KindUnavailable is an unconfigured target
	KindBackend        Kind = "backend"         // KindBackend is a proof backend failure
	KindInternal       Kind = "internal"        // KindInternal is anything else
)

// Classify returns the kind of a pipeline error.
func Classify(err error) Kind {
	var bindingErr *binding.Error

	switch {
	case errors.Is(err, request.ErrMalformedInput):
		return KindMalformedInput
	case errors.As(err, &bindingErr):
		return KindBinding
	case errors.Is(err, replay.ErrNullifierSpent), errors.Is(err, replay.ErrNonceReused):
		return KindReplay
	case errors.Is(err, orchestrator.ErrTargetUnavailable), errors.Is(err, orchestrator.ErrClosed):
		return KindUnavailable
	case errors.Is(err, orchestrator.ErrBackend):
		return KindBackend
	default:
		return KindInternal
	}
}

// Request selects what to do with an input.
type Request struct {
	Mode     orchestrator.Mode // Mode is execute or prove
	Target   backend.Target    // Target is the proving tier, ignored by execute
	Encoding backend.Encoding  // Encoding is the proof encoding, ignored by execute
}

// Config holds the dependencies of a Service.
type Config struct {
	Validator    *binding.Validator         // Validator checks inputs, strict structural if nil
	Orchestrator *orchestrator.Orchestrator // Orchestrator dispatches to backends
	Registry     *replay.Registry           // Registry enables replay protection, optional
}

// Service runs the pipeline. It is safe for concurrent use.
type Service struct {
	validator    *binding.Validator
	orchestrator *orchestrator.Orchestrator
	registry     *replay.Registry
}

// New creates a service.
func New(cfg Config) (*Service, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	validator := cfg.Validator
	if validator == nil {
		validator = binding.NewValidator(binding.PolicyStrict, nil)
	}

	return &Service{
		validator:    validator,
		orchestrator: cfg.Orchestrator,
		registry:     cfg.Registry,
	}, nil
}

// HandleJSON normalizes a raw request and processes it.
func (s *Service) HandleJSON(ctx context.Context, raw []byte, req Request) (*response.ProverResponse, error) {
	in, err := request.Normalize(raw)
	if err != nil {
		return nil, err
	}

	return s.Process(ctx, in, req)
}

// Process validates an input and dispatches it.
// Only proofs spend the nullifier and nonce; executions just check them.
func (s *Service) Process(ctx context.Context, in *request.AggregationInput, req Request) (*response.ProverResponse, error) {
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	if s.registry != nil {
		if err := s.registry.Check(in.SelfNullifier, in.SessionNonce); err != nil {
			return nil, err
		}
	}

	res, err := s.orchestrator.Dispatch(ctx, in, req.Mode, req.Target, req.Encoding)
	if err != nil {
		return nil, err
	}

	if req.Mode == orchestrator.ModeProve && s.registry != nil {
		// A concurrent proof for the same nullifier may have committed first.
		if err := s.registry.Commit(in.SelfNullifier, in.SessionNonce); err != nil {
			return nil, err
		}

		logger.Debug("nullifier spent", "session", in.SessionNonce)
	}

	return response.Build(res, in), nil
}

// Stats reports replay registry counts, or nil when replay protection is off.
func (s *Service) Stats() (*replay.Stats, error) {
	if s.registry == nil {
		return nil, nil
	}

	stats, err := s.registry.Stats()
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

// Orchestrator returns the dispatcher.
func (s *Service) Orchestrator() *orchestrator.Orchestrator {
	return s.orchestrator
}
