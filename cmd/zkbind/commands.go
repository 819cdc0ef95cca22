package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"zkbind/internal/api"
	"zkbind/internal/backend"
	"zkbind/internal/logger"
	"zkbind/internal/network"
	"zkbind/internal/orchestrator"
	"zkbind/internal/request"
	"zkbind/internal/response"
	"zkbind/internal/service"
)

var (
	proveNetwork  string // proveNetwork is the proving tier name
	proveEncoding string // proveEncoding is the proof encoding name
)

func init() {
	proveCmd.Flags().StringVar(&proveNetwork, "network", backend.TargetLocal.String(), "proving tier: local, reserved or mainnet")
	proveCmd.Flags().StringVar(&proveEncoding, "proof", backend.EncodingCompressed.String(), "proof encoding: core, compressed, groth16 or plonk")
}

// executeCmd runs the aggregator without proving
var executeCmd = &cobra.Command{
	Use:   "execute <request.json>",
	Short: "Validate a request and dry-run the aggregator",
	Long: `Validate a request and run the aggregator locally without proving.

The response carries the real public values and a placeholder proof. Dry runs
never contact a network tier and never spend the nullifier.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), args[0], service.Request{Mode: orchestrator.ModeExecute})
	},
}

// proveCmd produces an aggregated proof
var proveCmd = &cobra.Command{
	Use:   "prove <request.json>",
	Short: "Validate a request and produce an aggregated proof",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := backend.ParseTarget(proveNetwork)
		if err != nil {
			return err
		}

		encoding, err := backend.ParseEncoding(proveEncoding)
		if err != nil {
			return err
		}

		return runOnce(cmd.Context(), args[0], service.Request{
			Mode:     orchestrator.ModeProve,
			Target:   target,
			Encoding: encoding,
		})
	},
}

// serveCmd exposes the pipeline over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the aggregation API over HTTP",
	Long: `Serve the aggregation API over HTTP.

Endpoints:
  POST /execute                          dry run
  POST /prove?network=<tier>&proof=<enc> aggregated proof
  GET  /health                           targets and replay registry counts`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, err := NewApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		server := api.New(cfg.Server.Listen, app.service, cfg.RequestTimeout())
		if err := server.Start(); err != nil {
			return fmt.Errorf("start http api:\n%w", err)
		}

		logger.Info("zkbind serving",
			"http", server.Addr(),
			"program", app.program.Name,
			"policy", cfg.Binding.Policy,
			"replay", cfg.Registry.Dir != "",
		)

		waitForShutdown()

		return server.Stop()
	},
}

// proverNodeCmd serves the local backend to remote clients
var proverNodeCmd = &cobra.Command{
	Use:   "prover-node",
	Short: "Serve the local backend as a network prover node",
	Long: `Serve the local backend over QUIC so that other zkbind instances can
use it as their reserved or mainnet tier. Clients pin the printed public key.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		key, err := identityKey(cfg)
		if err != nil {
			return err
		}

		local, err := newLocalBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer local.Close()

		node, err := network.NewServer(network.ServerConfig{
			Backend:          local,
			PrivateKey:       key,
			ListenAddr:       cfg.ProverNode.Listen,
			OperationTimeout: cfg.NetworkTimeout(),
		})
		if err != nil {
			return fmt.Errorf("create prover node:\n%w", err)
		}

		if err := node.Start(); err != nil {
			return fmt.Errorf("start prover node:\n%w", err)
		}

		logger.Info("prover node started",
			"addr", node.Addr(),
			"pubkey", "0x"+hex.EncodeToString(node.PublicKey()),
		)

		waitForShutdown()

		return node.Close()
	},
}

// runOnce processes one request file and prints the response.
func runOnce(ctx context.Context, path string, req service.Request) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in, err := request.Load(path)
	if err != nil {
		return err
	}

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if req.Mode == orchestrator.ModeProve && req.Target != backend.TargetLocal {
		if timeout := cfg.NetworkTimeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	start := time.Now()

	resp, err := app.service.Process(ctx, in, req)
	if err != nil {
		return fmt.Errorf("%s: %w", service.Classify(err), err)
	}

	logger.Info("aggregation complete",
		"mode", req.Mode.String(),
		"target", req.Target.String(),
		"nullifier", resp.Metadata.SelfNullifier,
		logger.Timed(start),
	)

	return response.Write(os.Stdout, resp)
}
