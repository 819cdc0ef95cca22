package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"zkbind/internal/backend"
	"zkbind/internal/binding"
	"zkbind/internal/orchestrator"
	"zkbind/internal/replay"
	"zkbind/internal/response"
	"zkbind/internal/service"
)

const validRequest = `{
	"generation": {"publicSignals": ["1"]},
	"social": {"publicSignals": ["5"]},
	"session_nonce": "n1",
	"verified_root": "r",
	"min_verified_needed": 10,
	"target_generation_id": 2,
	"self_nullifier": "nul1",
	"generation_claim_hash": "h",
	"social_claim_hash": "h"
}`

func newTestServer(t *testing.T) *Server {
	t.Helper()

	local, err := backend.NewLocal(backend.LocalConfig{Machine: backend.NativeMachine{}, Secret: []byte("api")})
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}

	orch, err := orchestrator.New(orchestrator.Config{Program: backend.BuiltinProgram(), Local: local})
	if err != nil {
		t.Fatalf("create orchestrator: %v", err)
	}
	t.Cleanup(func() { orch.Close() })

	reg, err := replay.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	svc, err := service.New(service.Config{
		Validator:    binding.NewValidator(binding.PolicyStrict, nil),
		Orchestrator: orch,
		Registry:     reg,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	return New(":0", svc, 0)
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	return resp
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Status  string       `json:"status"`
		Targets []string     `json:"targets"`
		VKHash  string       `json:"vk_hash"`
		Replay  replay.Stats `json:"replay"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Status != "ok" || len(resp.Targets) != 1 || resp.Targets[0] != "local" {
		t.Errorf("unexpected health: %+v", resp)
	}

	// The advertised key hash is the one carried by on-chain proofs.
	w = do(t, s, "POST", "/prove?network=local&proof=groth16", validRequest)
	if w.Code != http.StatusOK {
		t.Fatalf("prove: expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var proved response.ProverResponse
	if err := json.Unmarshal(w.Body.Bytes(), &proved); err != nil {
		t.Fatalf("failed to parse prove response: %v", err)
	}

	if resp.VKHash == "" || resp.VKHash != proved.VKHash {
		t.Errorf("health vk hash %q, proof vk hash %q", resp.VKHash, proved.VKHash)
	}
}

// TestHealthEndpoint_Closed tests health once the backends are shut down.
func TestHealthEndpoint_Closed(t *testing.T) {
	s := newTestServer(t)
	s.service.Orchestrator().Close()

	w := do(t, s, "GET", "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}

	if kind := decodeError(t, w)["kind"]; kind != string(service.KindUnavailable) {
		t.Errorf("kind = %s", kind)
	}
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "GET", "/health", "")

	if _, err := uuid.Parse(w.Header().Get(requestIDHeader)); err != nil {
		t.Errorf("expected a UUID request id, got %q", w.Header().Get(requestIDHeader))
	}
}

func TestExecute_Success(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "POST", "/execute", validRequest)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp response.ProverResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if string(resp.Proof) != response.PlaceholderProof || resp.Metadata.SelfNullifier != "nul1" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

// TestProve_Statuses tests the status code of each failure kind.
func TestProve_Statuses(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "POST", "/prove?network=local&proof=groth16", validRequest)
	if w.Code != http.StatusOK {
		t.Fatalf("first prove: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	tests := []struct {
		name   string
		target string
		body   string
		status int
		kind   service.Kind
	}{
		{"replayed", "/prove", validRequest, http.StatusConflict, service.KindReplay},
		{"malformed", "/execute", `{"generation":`, http.StatusBadRequest, service.KindMalformedInput},
		{"binding", "/execute", strings.Replace(validRequest, `"social_claim_hash": "h"`, `"social_claim_hash": "x"`, 1), http.StatusUnprocessableEntity, service.KindBinding},
		{"unknown network", "/prove?network=moon", validRequest, http.StatusBadRequest, service.KindMalformedInput},
		{"unknown encoding", "/prove?proof=stark", validRequest, http.StatusBadRequest, service.KindMalformedInput},
		{"reused nonce checked before dispatch", "/prove?network=mainnet", strings.Replace(validRequest, "nul1", "nul9", 1), http.StatusConflict, service.KindReplay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, "POST", tt.target, tt.body)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}

			if got := decodeError(t, w)["kind"]; got != string(tt.kind) {
				t.Errorf("kind = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestProve_Unavailable(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "POST", "/prove?network=reserved&proof=plonk", validRequest)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d: %s", w.Code, w.Body.String())
	}

	// A failed dispatch must not spend the nullifier.
	w = do(t, s, "POST", "/prove?proof=core", validRequest)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequestTooLarge(t *testing.T) {
	s := newTestServer(t)

	body := bytes.Repeat([]byte(" "), maxRequestSize+1)
	w := do(t, s, "POST", "/execute", string(body))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status 413, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	if statusFor(service.KindBackend) != http.StatusBadGateway {
		t.Error("backend errors should map to 502")
	}

	if statusFor(service.KindInternal) != http.StatusInternalServerError {
		t.Error("internal errors should map to 500")
	}
}
