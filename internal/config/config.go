// Package config loads the zkbind configuration file.
package config

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"

	"zkbind/internal/binding"
	"zkbind/internal/bls"
	"zkbind/internal/logger"
)

// DevSecret is the proving key secret used when none is configured.
// Keys derived from it are public knowledge.
const DevSecret = "zkbind-dev-secret"

// Config is the root configuration.
type Config struct {
	// Program is "builtin" or the path of a WASM aggregator image.
	Program string `yaml:"program"`

	Binding    BindingConfig    `yaml:"binding"`
	Prover     ProverConfig     `yaml:"prover"`
	Network    NetworkConfig    `yaml:"network"`
	Registry   RegistryConfig   `yaml:"registry"`
	Server     ServerConfig     `yaml:"server"`
	ProverNode ProverNodeConfig `yaml:"prover_node"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BindingConfig configures input validation.
type BindingConfig struct {
	Policy string `yaml:"policy"` // strict, relaxed

	// AttestationKey is the 0x-hex BLS public key of the upstream verifier.
	// When set, every proof must carry its attestation.
	AttestationKey string `yaml:"attestation_key"`
}

// ProverConfig configures the local backend.
type ProverConfig struct {
	Secret     string `yaml:"secret"`
	CycleLimit uint64 `yaml:"cycle_limit"`
}

// NetworkConfig configures the remote prover tiers.
type NetworkConfig struct {
	Reserved TierConfig `yaml:"reserved"`
	Mainnet  TierConfig `yaml:"mainnet"`
	Timeout  string     `yaml:"timeout"`
}

// TierConfig locates one prover node.
type TierConfig struct {
	Addr      string `yaml:"addr"`       // host:port, tier disabled if empty
	ServerKey string `yaml:"server_key"` // 0x-hex ed25519 key to pin, optional
}

// RegistryConfig configures replay protection.
type RegistryConfig struct {
	Dir string `yaml:"dir"` // disabled if empty
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen         string `yaml:"listen"`
	RequestTimeout string `yaml:"request_timeout"`
}

// ProverNodeConfig configures the prover node.
type ProverNodeConfig struct {
	Listen string `yaml:"listen"`

	// IdentitySeed is the 0x-hex 32-byte ed25519 seed of the node, random if empty.
	IdentitySeed string `yaml:"identity_seed"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Program: "builtin",
		Binding: BindingConfig{Policy: "strict"},
		Network: NetworkConfig{Timeout: "10m"},
		Server: ServerConfig{
			Listen:         "127.0.0.1:8080",
			RequestTimeout: "15m",
		},
		ProverNode: ProverNodeConfig{Listen: ":7400"},
		Logging:    LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults and applies environment overrides.
// An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config:\n%w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s:\n%w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ZKBIND_PROVER_SECRET"); v != "" {
		c.Prover.Secret = v
	}
	if v := os.Getenv("ZKBIND_RESERVED_ADDR"); v != "" {
		c.Network.Reserved.Addr = v
	}
	if v := os.Getenv("ZKBIND_MAINNET_ADDR"); v != "" {
		c.Network.Mainnet.Addr = v
	}
	if v := os.Getenv("ZKBIND_REGISTRY_DIR"); v != "" {
		c.Registry.Dir = v
	}
}

// Validate checks every field that is parsed later.
func (c *Config) Validate() error {
	if c.Program == "" {
		return fmt.Errorf("program is required")
	}

	if _, err := c.Policy(); err != nil {
		return err
	}

	if _, err := c.AttestationKey(); err != nil {
		return err
	}

	for name, tier := range map[string]TierConfig{"reserved": c.Network.Reserved, "mainnet": c.Network.Mainnet} {
		if _, err := tier.PinnedKey(); err != nil {
			return fmt.Errorf("network.%s: %w", name, err)
		}
	}

	if _, err := c.IdentityKey(); err != nil {
		return err
	}

	for name, value := range map[string]string{
		"network.timeout":        c.Network.Timeout,
		"server.request_timeout": c.Server.RequestTimeout,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// Policy returns the binding policy.
func (c *Config) Policy() (binding.Policy, error) {
	return binding.ParsePolicy(c.Binding.Policy)
}

// AttestationKey returns the upstream verifier key, or nil if unset.
func (c *Config) AttestationKey() ([]byte, error) {
	if c.Binding.AttestationKey == "" {
		return nil, nil
	}

	key, err := hexutil.Decode(c.Binding.AttestationKey)
	if err != nil {
		return nil, fmt.Errorf("binding.attestation_key: %w", err)
	}

	if !bls.ValidPublicKey(key) {
		return nil, fmt.Errorf("binding.attestation_key: not a BLS public key")
	}

	return key, nil
}

// ProverSecret returns the proving key secret, falling back to DevSecret.
func (c *Config) ProverSecret() []byte {
	if c.Prover.Secret == "" {
		return []byte(DevSecret)
	}

	return []byte(c.Prover.Secret)
}

// NetworkTimeout returns the remote request timeout.
func (c *Config) NetworkTimeout() time.Duration {
	d, _ := parseDuration(c.Network.Timeout)
	return d
}

// RequestTimeout returns the HTTP request timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, _ := parseDuration(c.Server.RequestTimeout)
	return d
}

// IdentityKey returns the prover node key, or nil for a random one.
func (c *Config) IdentityKey() (ed25519.PrivateKey, error) {
	if c.ProverNode.IdentitySeed == "" {
		return nil, nil
	}

	seed, err := hexutil.Decode(c.ProverNode.IdentitySeed)
	if err != nil {
		return nil, fmt.Errorf("prover_node.identity_seed: %w", err)
	}

	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("prover_node.identity_seed: got %d bytes, want %d", len(seed), ed25519.SeedSize)
	}

	return ed25519.NewKeyFromSeed(seed), nil
}

// PinnedKey returns the pinned server key, or nil if unset.
func (t TierConfig) PinnedKey() (ed25519.PublicKey, error) {
	if t.ServerKey == "" {
		return nil, nil
	}

	key, err := hexutil.Decode(t.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("server_key: %w", err)
	}

	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("server_key: got %d bytes, want %d", len(key), ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(key), nil
}

// parseDuration parses a duration; empty means zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	return time.ParseDuration(s)
}
