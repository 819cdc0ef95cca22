package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"zkbind/internal/backend"
	"zkbind/internal/binding"
	"zkbind/internal/config"
	"zkbind/internal/logger"
	"zkbind/internal/network"
	"zkbind/internal/orchestrator"
	"zkbind/internal/replay"
	"zkbind/internal/service"
)

// builtinProgram selects the aggregator compiled into the binary.
const builtinProgram = "builtin"

// App holds the components wired from a configuration.
type App struct {
	cfg      *config.Config
	program  *backend.Program
	local    *backend.Local
	orch     *orchestrator.Orchestrator
	registry *replay.Registry
	service  *service.Service
}

// NewApp wires the full aggregation pipeline.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	if err := a.initBackend(ctx); err != nil {
		return nil, err
	}

	if err := a.initOrchestrator(); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.initRegistry(); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.initService(); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// initBackend loads the program and creates the local backend.
func (a *App) initBackend(ctx context.Context) error {
	var machine backend.Machine

	if a.cfg.Program == builtinProgram {
		a.program = backend.BuiltinProgram()
		machine = backend.NativeMachine{}
	} else {
		image, err := os.ReadFile(a.cfg.Program)
		if err != nil {
			return fmt.Errorf("read program:\n%w", err)
		}

		a.program = backend.NewProgram(filepath.Base(a.cfg.Program), image)

		wasm, err := backend.NewWasmMachine(ctx)
		if err != nil {
			return fmt.Errorf("init wasm runtime:\n%w", err)
		}

		machine = wasm
	}

	if a.cfg.Prover.Secret == "" {
		logger.Warn("no prover secret configured, proving keys are derived from the public dev secret")
	}

	local, err := backend.NewLocal(backend.LocalConfig{
		Machine:    machine,
		Secret:     a.cfg.ProverSecret(),
		CycleLimit: a.cfg.Prover.CycleLimit,
	})
	if err != nil {
		machine.Close()
		return fmt.Errorf("init local backend:\n%w", err)
	}

	a.local = local

	logger.Debug("program loaded", "name", a.program.Name, "hash", fmt.Sprintf("%x", a.program.Hash[:8]))

	return nil
}

// initOrchestrator registers a lazy resolver for each configured network tier.
func (a *App) initOrchestrator() error {
	policy, err := a.cfg.Policy()
	if err != nil {
		return err
	}

	remotes := make(map[backend.Target]orchestrator.Resolver)

	tiers := map[backend.Target]config.TierConfig{
		backend.TargetReserved: a.cfg.Network.Reserved,
		backend.TargetMainnet:  a.cfg.Network.Mainnet,
	}

	for target, tier := range tiers {
		if tier.Addr == "" {
			continue
		}

		pin, err := tier.PinnedKey()
		if err != nil {
			return fmt.Errorf("network.%s:\n%w", target, err)
		}

		if pin == nil {
			logger.Warn("prover node identity not pinned", "target", target.String(), "addr", tier.Addr)
		}

		remotes[target] = dialer(target, tier.Addr, pin)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Program: a.program,
		Local:   a.local,
		Remotes: remotes,
		Policy:  policy,
	})
	if err != nil {
		return fmt.Errorf("init orchestrator:\n%w", err)
	}

	a.orch = orch

	return nil
}

// dialer returns a resolver connecting to one prover node.
func dialer(target backend.Target, addr string, pin ed25519.PublicKey) orchestrator.Resolver {
	return func(ctx context.Context) (backend.Backend, error) {
		client, err := network.Dial(ctx, network.ClientConfig{
			Target:    target,
			Addr:      addr,
			ServerKey: pin,
		})
		if err != nil {
			return nil, err
		}

		logger.Info("connected to prover node", "target", target.String(), "addr", addr)

		return client, nil
	}
}

// initRegistry opens the replay registry when a directory is configured.
func (a *App) initRegistry() error {
	if a.cfg.Registry.Dir == "" {
		logger.Debug("replay protection disabled")
		return nil
	}

	if err := os.MkdirAll(a.cfg.Registry.Dir, 0755); err != nil {
		return fmt.Errorf("create registry directory:\n%w", err)
	}

	reg, err := replay.Open(a.cfg.Registry.Dir)
	if err != nil {
		return err
	}

	a.registry = reg

	return nil
}

// initService creates the validator and the pipeline.
func (a *App) initService() error {
	policy, err := a.cfg.Policy()
	if err != nil {
		return err
	}

	var verifier binding.Verifier

	key, err := a.cfg.AttestationKey()
	if err != nil {
		return err
	}

	if key != nil {
		verifier, err = binding.NewAttestationVerifier(key)
		if err != nil {
			return err
		}
	}

	svc, err := service.New(service.Config{
		Validator:    binding.NewValidator(policy, verifier),
		Orchestrator: a.orch,
		Registry:     a.registry,
	})
	if err != nil {
		return err
	}

	a.service = svc

	return nil
}

// Close shuts down all components.
func (a *App) Close() error {
	if a.orch != nil {
		a.orch.Close()
	} else if a.local != nil {
		a.local.Close()
	}

	if a.registry != nil {
		a.registry.Close()
	}

	return nil
}

// newLocalBackend creates the backend served by a prover node.
func newLocalBackend(ctx context.Context, cfg *config.Config) (*backend.Local, error) {
	a := &App{cfg: cfg}
	if err := a.initBackend(ctx); err != nil {
		return nil, err
	}

	return a.local, nil
}

// identityKey returns the configured prover node key or a fresh one.
func identityKey(cfg *config.Config) (ed25519.PrivateKey, error) {
	key, err := cfg.IdentityKey()
	if err != nil {
		return nil, err
	}

	if key != nil {
		return key, nil
	}

	_, key, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity:\n%w", err)
	}

	logger.Warn("no identity seed configured, using an ephemeral key")

	return key, nil
}

// waitForShutdown blocks until SIGINT or SIGTERM.
func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())
}
