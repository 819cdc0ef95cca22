// Package network implements the remote prover tiers over QUIC.
//
// A Client is a backend.Backend that forwards setup, execution and proving to a
// prover node. A Server exposes any backend.Backend as a prover node. Each
// operation is one request/response on its own bidirectional stream.
package network

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"zkbind/internal/backend"
	"zkbind/internal/logger"
)

const (
	// defaultRequestTimeout bounds a request when the context has no deadline.
	defaultRequestTimeout = 10 * time.Minute

	// dialTimeout bounds connection establishment.
	dialTimeout = 10 * time.Second
)

var (
	// ErrRemote is returned when the prover node reports a failure.
	ErrRemote = errors.New("remote prover error")

	// ErrUntrustedProver is returned when the prover presents an unexpected key.
	ErrUntrustedProver = errors.New("untrusted prover identity")

	// ErrClientClosed is returned when using a closed client.
	ErrClientClosed = errors.New("client is closed")
)

// ClientConfig holds the configuration of a Client.
type ClientConfig struct {
	Target     backend.Target     // Target is the network tier this client serves
	Addr       string             // Addr is the prover node address (host:port)
	ServerKey  ed25519.PublicKey  // ServerKey pins the prover identity, any key if empty
	PrivateKey ed25519.PrivateKey // PrivateKey is the client identity, random if nil
}

// Client is a backend.Backend served by a remote prover node.
type Client struct {
	target backend.Target // target is the network tier
	addr   string         // addr is the prover node address
	conn   *quic.Conn     // conn is the QUIC connection to the node
	closed atomic.Bool    // closed indicates if the client is closed
}

// Dial connects to a prover node.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("prover address is required for %s", cfg.Target)
	}

	key := cfg.PrivateKey
	if key == nil {
		var err error
		if _, key, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return nil, fmt.Errorf("generate client key: %w", err)
		}
	}

	cert, err := generateCertificate(key)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, // identity is checked against ServerKey below
		NextProtos:         []string{alpnProtocol},
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := quic.DialAddr(dialCtx, cfg.Addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial %s:\n%w", cfg.Addr, err)
	}

	if err := checkPinned(conn.ConnectionState().TLS, cfg.ServerKey); err != nil {
		conn.CloseWithError(1, "untrusted prover")
		return nil, err
	}

	logger.Debug("connected to prover", "target", cfg.Target, "addr", cfg.Addr)

	return &Client{
		target: cfg.Target,
		addr:   cfg.Addr,
		conn:   conn,
	}, nil
}

// Name returns the tier name.
func (c *Client) Name() string {
	return "remote-" + c.target.String()
}

// Setup uploads the program and returns keys whose proving half stays remote.
func (c *Client) Setup(ctx context.Context, program *backend.Program) (*backend.ProvingKey, *backend.VerifyingKey, error) {
	req := &setupRequest{name: program.Name, image: program.Image}

	data, err := c.request(ctx, kindSetup, req.encode())
	if err != nil {
		return nil, nil, err
	}

	resp, err := decodeSetupResponse(data)
	if err != nil {
		return nil, nil, err
	}

	if resp.err != "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrRemote, resp.err)
	}

	vk, err := backend.DecodeVerifyingKey(resp.verifyingKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if vk.ProgramHash != program.Hash {
		return nil, nil, fmt.Errorf("%w: verifying key is for another program", ErrRemote)
	}

	return backend.NewRemoteProvingKey(program, vk), vk, nil
}

// Execute runs the program on the prover node without proving.
func (c *Client) Execute(ctx context.Context, program *backend.Program, stdin []byte) (*backend.Execution, error) {
	req := &executeRequest{name: program.Name, image: program.Image, stdin: stdin}

	data, err := c.request(ctx, kindExecute, req.encode())
	if err != nil {
		return nil, err
	}

	resp, err := decodeExecuteResponse(data)
	if err != nil {
		return nil, err
	}

	if resp.err != "" {
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp.err)
	}

	return &backend.Execution{
		PublicValues: resp.publicValues,
		Report:       backend.CostReport{Cycles: resp.cycles},
	}, nil
}

// Prove requests a proof and verifies it against the key returned by Setup.
func (c *Client) Prove(ctx context.Context, pk *backend.ProvingKey, stdin []byte, encoding backend.Encoding) (*backend.ProofArtifact, error) {
	if pk == nil || pk.VerifyingKey == nil {
		return nil, fmt.Errorf("proving key is required")
	}

	req := &proveRequest{
		programHash: pk.Program.Hash[:],
		stdin:       stdin,
		encoding:    byte(encoding),
	}

	data, err := c.request(ctx, kindProve, req.encode())
	if err != nil {
		return nil, err
	}

	resp, err := decodeProveResponse(data)
	if err != nil {
		return nil, err
	}

	if resp.err != "" {
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp.err)
	}

	artifact := &backend.ProofArtifact{
		Encoding:     backend.Encoding(resp.encoding),
		Proof:        resp.proof,
		PublicValues: resp.publicValues,
	}

	if artifact.Encoding != encoding {
		return nil, fmt.Errorf("%w: got %s proof, want %s", ErrRemote, artifact.Encoding, encoding)
	}

	if err := backend.VerifyArtifact(pk.VerifyingKey, artifact); err != nil {
		return nil, fmt.Errorf("verify remote proof:\n%w", err)
	}

	return artifact, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	return c.conn.CloseWithError(0, "closed")
}

// request sends one frame on a new stream and reads the reply frame.
func (c *Client) request(ctx context.Context, kind byte, payload []byte) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeFrame(stream, kind, payload); err != nil {
		return nil, fmt.Errorf("write request:\n%w", err)
	}

	replyKind, reply, err := readFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("read response:\n%w", err)
	}

	if replyKind != kind {
		return nil, fmt.Errorf("%w: reply kind %d for request kind %d", ErrMalformedMessage, replyKind, kind)
	}

	return reply, nil
}

// quicConfig returns the QUIC settings shared by clients and servers.
func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}
