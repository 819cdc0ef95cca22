// Command zkbind aggregates a generation-eligibility proof and a
// social-verification proof into one session-bound proof.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"zkbind/internal/config"
	"zkbind/internal/logger"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string // configPath is the YAML configuration file
	program    string // program overrides config.Program
	policy     string // policy overrides config.Binding.Policy
	registry   string // registry overrides config.Registry.Dir
	verbose    bool   // verbose forces debug logging
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:   "zkbind",
	Short: "Aggregate eligibility and social proofs into one session-bound proof",
	Long: `zkbind binds a generation-eligibility proof and a social-verification proof
to one session and produces a single aggregated proof.

Requests are JSON files holding both upstream proofs and the session fields.
The response is printed to stdout as JSON; logs go to stderr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&flags.program, "program", "", `aggregator program: "builtin" or a WASM image path`)
	pf.StringVar(&flags.policy, "policy", "", "claim hash binding policy: strict or relaxed")
	pf.StringVar(&flags.registry, "registry", "", "replay registry directory, disabled if empty")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(executeCmd, proveCmd, serveCmd, proverNodeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration, applies flag overrides and starts the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config:\n%w", err)
	}

	if flags.program != "" {
		cfg.Program = flags.program
	}

	if flags.policy != "" {
		cfg.Binding.Policy = flags.policy
	}

	if flags.registry != "" {
		cfg.Registry.Dir = flags.registry
	}

	if flags.verbose {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}

	level, _ := logger.ParseLevel(cfg.Logging.Level)
	logger.Init(level)

	return cfg, nil
}
