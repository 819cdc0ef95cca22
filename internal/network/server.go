package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"zkbind/internal/backend"
	"zkbind/internal/logger"
)

// defaultOperationTimeout bounds one backend operation on the server.
const defaultOperationTimeout = 10 * time.Minute

// ServerConfig holds the configuration of a Server.
type ServerConfig struct {
	Backend          backend.Backend    // Backend does the work
	PrivateKey       ed25519.PrivateKey // PrivateKey is the prover node identity
	ListenAddr       string             // ListenAddr is the address to listen on (e.g., ":7400")
	OperationTimeout time.Duration      // OperationTimeout bounds each backend call
}

// Server is a prover node. It serves one backend to any number of clients.
type Server struct {
	backend    backend.Backend   // backend does the work
	publicKey  ed25519.PublicKey // publicKey is the node identity
	listenAddr string            // listenAddr is the address to listen on
	tlsConfig  *tls.Config       // tlsConfig is the TLS configuration
	timeout    time.Duration     // timeout bounds each backend call

	listener *quic.Listener // listener is the QUIC listener

	keys   map[[32]byte]*backend.ProvingKey // keys maps program hash to proving key
	keysMu sync.RWMutex                     // keysMu protects keys

	ctx    context.Context    // ctx is the server's context
	cancel context.CancelFunc // cancel cancels the server's context
	wg     sync.WaitGroup     // wg waits for goroutines to finish
}

// NewServer creates a prover node.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}

	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	cert, err := generateCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	timeout := cfg.OperationTimeout
	if timeout == 0 {
		timeout = defaultOperationTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		backend:    cfg.Backend,
		publicKey:  cfg.PrivateKey.Public().(ed25519.PublicKey),
		listenAddr: cfg.ListenAddr,
		tlsConfig: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			ClientAuth:         tls.RequireAnyClientCert,
			InsecureSkipVerify: true,
			NextProtos:         []string{alpnProtocol},
		},
		timeout: timeout,
		keys:    make(map[[32]byte]*backend.ProvingKey),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// PublicKey returns the node identity clients pin.
func (s *Server) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// Addr returns the listener's address. Returns empty string if not started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Start begins accepting connections.
func (s *Server) Start() error {
	listener, err := quic.ListenAddr(s.listenAddr, s.tlsConfig, quicConfig())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info("prover node listening", "addr", s.Addr(), "backend", s.backend.Name())

	return nil
}

// Close stops the server and waits for in-flight requests.
func (s *Server) Close() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()

	return nil
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			return
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn accepts request streams until the connection or server closes.
func (s *Server) serveConn(conn *quic.Conn) {
	defer s.wg.Done()
	defer conn.CloseWithError(0, "server closed")

	logger.Debug("client connected", "addr", conn.RemoteAddr())

	for {
		stream, err := conn.AcceptStream(s.ctx)
		if err != nil {
			logger.Debug("client gone", "addr", conn.RemoteAddr(), "error", err)
			return
		}

		s.wg.Add(1)
		go s.serveStream(stream)
	}
}

// serveStream handles one request/response exchange.
func (s *Server) serveStream(stream *quic.Stream) {
	defer s.wg.Done()
	defer stream.Close()

	kind, payload, err := readFrame(stream)
	if err != nil {
		logger.Debug("read request", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	var reply []byte

	switch kind {
	case kindSetup:
		reply, err = s.handleSetup(ctx, payload)
	case kindExecute:
		reply, err = s.handleExecute(ctx, payload)
	case kindProve:
		reply, err = s.handleProve(ctx, payload)
	default:
		err = fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, kind)
	}

	if err != nil {
		logger.Warn("drop request", "kind", kind, "error", err)
		return
	}

	if err := writeFrame(stream, kind, reply); err != nil {
		logger.Debug("write response", "error", err)
	}
}

// handleSetup derives keys for an uploaded program and keeps the proving key.
func (s *Server) handleSetup(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeSetupRequest(payload)
	if err != nil {
		return nil, err
	}

	program := backend.NewProgram(req.name, req.image)

	pk, vk, err := s.backend.Setup(ctx, program)
	if err != nil {
		return (&setupResponse{err: err.Error()}).encode(), nil
	}

	s.keysMu.Lock()
	s.keys[program.Hash] = pk
	s.keysMu.Unlock()

	logger.Info("program set up", "program", program.Name, "hash", fmt.Sprintf("%x", program.Hash[:8]))

	return (&setupResponse{verifyingKey: vk.Encode()}).encode(), nil
}

func (s *Server) handleExecute(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeExecuteRequest(payload)
	if err != nil {
		return nil, err
	}

	exec, err := s.backend.Execute(ctx, backend.NewProgram(req.name, req.image), req.stdin)
	if err != nil {
		return (&executeResponse{err: err.Error()}).encode(), nil
	}

	return (&executeResponse{
		publicValues: exec.PublicValues,
		cycles:       exec.Report.Cycles,
	}).encode(), nil
}

// handleProve proves with a key from an earlier setup.
func (s *Server) handleProve(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeProveRequest(payload)
	if err != nil {
		return nil, err
	}

	if len(req.programHash) != 32 {
		return nil, fmt.Errorf("%w: program hash size %d", ErrMalformedMessage, len(req.programHash))
	}

	var hash [32]byte
	copy(hash[:], req.programHash)

	s.keysMu.RLock()
	pk := s.keys[hash]
	s.keysMu.RUnlock()

	if pk == nil {
		return (&proveResponse{err: fmt.Sprintf("program %x is not set up", hash[:8])}).encode(), nil
	}

	encoding := backend.Encoding(req.encoding)

	artifact, err := s.backend.Prove(ctx, pk, req.stdin, encoding)
	if err != nil {
		return (&proveResponse{err: err.Error()}).encode(), nil
	}

	return (&proveResponse{
		proof:        artifact.Proof,
		publicValues: artifact.PublicValues,
		encoding:     byte(artifact.Encoding),
	}).encode(), nil
}
