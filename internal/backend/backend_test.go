package backend

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"zkbind/internal/guest"
)

var testSecret = []byte("test operator secret")

func testStdin() []byte {
	return guest.EncodeInput(&guest.Input{
		Generation:          guest.Proof{Proof: "g", PublicSignals: []string{"1"}},
		Social:              guest.Proof{Proof: "s", PublicSignals: []string{"5"}},
		SessionNonce:        "n1",
		VerifiedRoot:        "r",
		MinVerifiedNeeded:   10,
		TargetGenerationID:  2,
		SelfNullifier:       "nul1",
		GenerationClaimHash: "h",
		SocialClaimHash:     "h",
	})
}

func newNativeBackend(t *testing.T) *Local {
	t.Helper()

	l, err := NewLocal(LocalConfig{Machine: NativeMachine{}, Secret: testSecret})
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}

	return l
}

func TestParseTargetAndEncoding(t *testing.T) {
	for _, tgt := range Targets {
		got, err := ParseTarget(tgt.String())
		if err != nil || got != tgt {
			t.Errorf("ParseTarget(%q) = %v, %v", tgt, got, err)
		}
	}

	for _, enc := range Encodings {
		got, err := ParseEncoding(enc.String())
		if err != nil || got != enc {
			t.Errorf("ParseEncoding(%q) = %v, %v", enc, got, err)
		}
	}

	if _, err := ParseTarget("testnet"); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("expected ErrUnknownTarget, got %v", err)
	}

	if _, err := ParseEncoding("stark"); !errors.Is(err, ErrUnknownEncoding) {
		t.Errorf("expected ErrUnknownEncoding, got %v", err)
	}

	if !EncodingGroth16.OnChain() || !EncodingPlonk.OnChain() || EncodingCore.OnChain() || EncodingCompressed.OnChain() {
		t.Error("unexpected OnChain classification")
	}
}

// TestLocal_Execute tests a dry run on the native machine.
func TestLocal_Execute(t *testing.T) {
	l := newNativeBackend(t)
	defer l.Close()

	exec, err := l.Execute(context.Background(), BuiltinProgram(), testStdin())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if exec.Report.TotalInstructionCount() == 0 {
		t.Error("expected non-zero instruction count")
	}

	signals, err := guest.DecodePublicValues(exec.PublicValues)
	if err != nil {
		t.Fatalf("decode public values: %v", err)
	}

	if signals.SelfNullifier != "nul1" || signals.GenerationID != 2 || signals.SocialLevel != 10 || signals.ClaimHash != "h" {
		t.Errorf("unexpected signals: %+v", signals)
	}
}

// TestLocal_ExecuteAssertionFails tests that program assertions surface as errors.
func TestLocal_ExecuteAssertionFails(t *testing.T) {
	l := newNativeBackend(t)

	stdin := guest.EncodeInput(&guest.Input{SelfNullifier: "x"})

	_, err := l.Execute(context.Background(), BuiltinProgram(), stdin)
	if !errors.Is(err, guest.ErrAssertion) {
		t.Errorf("expected ErrAssertion, got %v", err)
	}
}

func TestLocal_CycleLimit(t *testing.T) {
	l, err := NewLocal(LocalConfig{Machine: NativeMachine{}, Secret: testSecret, CycleLimit: 5})
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}

	if _, err := l.Execute(context.Background(), BuiltinProgram(), testStdin()); !errors.Is(err, ErrCycleLimit) {
		t.Errorf("expected ErrCycleLimit, got %v", err)
	}
}

// TestLocal_ProveAllEncodings tests that every encoding verifies and vk formats hold.
func TestLocal_ProveAllEncodings(t *testing.T) {
	l := newNativeBackend(t)
	ctx := context.Background()

	pk, vk, err := l.Setup(ctx, BuiltinProgram())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	for _, enc := range Encodings {
		t.Run(enc.String(), func(t *testing.T) {
			artifact, err := l.Prove(ctx, pk, testStdin(), enc)
			if err != nil {
				t.Fatalf("prove: %v", err)
			}

			if artifact.Encoding != enc {
				t.Errorf("encoding = %v, want %v", artifact.Encoding, enc)
			}

			if err := VerifyArtifact(vk, artifact); err != nil {
				t.Fatalf("verify: %v", err)
			}

			tampered := *artifact
			tampered.PublicValues = append([]byte{}, artifact.PublicValues...)
			tampered.PublicValues[len(tampered.PublicValues)-1] ^= 0xff

			if err := VerifyArtifact(vk, &tampered); !errors.Is(err, ErrInvalidProof) {
				t.Errorf("tampered public values: expected ErrInvalidProof, got %v", err)
			}
		})
	}
}

// TestLocal_OnChainSelector tests that on-chain proofs start with the vk selector.
func TestLocal_OnChainSelector(t *testing.T) {
	l := newNativeBackend(t)
	ctx := context.Background()

	pk, vk, _ := l.Setup(ctx, BuiltinProgram())

	artifact, err := l.Prove(ctx, pk, testStdin(), EncodingGroth16)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	selector := vk.Bytes32()
	if !bytes.Equal(artifact.Proof[:selectorSize], selector[:selectorSize]) {
		t.Errorf("proof prefix %x, want %x", artifact.Proof[:selectorSize], selector[:selectorSize])
	}
}

// TestLocal_SetupDeterministic tests that keys depend only on secret and program.
func TestLocal_SetupDeterministic(t *testing.T) {
	ctx := context.Background()

	a := newNativeBackend(t)
	b := newNativeBackend(t)

	_, vkA, _ := a.Setup(ctx, BuiltinProgram())
	_, vkB, _ := b.Setup(ctx, BuiltinProgram())

	if vkA.Bytes32() != vkB.Bytes32() {
		t.Error("same secret and program produced different keys")
	}

	other, _ := NewLocal(LocalConfig{Machine: NativeMachine{}, Secret: []byte("other")})
	_, vkC, _ := other.Setup(ctx, BuiltinProgram())

	if vkA.Bytes32() == vkC.Bytes32() {
		t.Error("different secrets produced the same key")
	}
}

func TestLocal_ProveRejectsForeignKey(t *testing.T) {
	l := newNativeBackend(t)

	_, vk, _ := l.Setup(context.Background(), BuiltinProgram())
	remote := NewRemoteProvingKey(BuiltinProgram(), vk)

	if _, err := l.Prove(context.Background(), remote, testStdin(), EncodingCore); !errors.Is(err, ErrForeignKey) {
		t.Errorf("expected ErrForeignKey, got %v", err)
	}
}

func TestNativeMachine_RejectsOtherPrograms(t *testing.T) {
	l := newNativeBackend(t)

	_, _, err := l.Setup(context.Background(), NewProgram("other", []byte{0, 'a', 's', 'm'}))
	if !errors.Is(err, ErrUnsupportedProgram) {
		t.Errorf("expected ErrUnsupportedProgram, got %v", err)
	}
}

// TestVerifyingKey_Formats tests the two hash representations.
func TestVerifyingKey_Formats(t *testing.T) {
	l := newNativeBackend(t)
	_, vk, _ := l.Setup(context.Background(), BuiltinProgram())

	b32 := vk.Bytes32()

	var x [32]byte
	copy(x[:], b32[:])

	// The digest is a BN254 field element, so it is below the modulus.
	modulus := bn254ScalarField.Bytes32()
	if bytes.Compare(x[:], modulus[:]) >= 0 {
		t.Errorf("Bytes32 %x is not reduced", x)
	}

	if len(vk.HashBytes()) == 0 {
		t.Error("empty native hash")
	}

	decoded, err := DecodeVerifyingKey(vk.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Bytes32() != b32 {
		t.Error("decoded key has a different digest")
	}

	if _, err := DecodeVerifyingKey(vk.Encode()[:10]); err == nil {
		t.Error("expected error for truncated key")
	}
}

func TestVerifyArtifact_Malformed(t *testing.T) {
	l := newNativeBackend(t)
	_, vk, _ := l.Setup(context.Background(), BuiltinProgram())

	for _, enc := range Encodings {
		err := VerifyArtifact(vk, &ProofArtifact{Encoding: enc, Proof: []byte("short"), PublicValues: []byte("x")})
		if err == nil || !(errors.Is(err, ErrMalformedProof) || errors.Is(err, ErrInvalidProof)) {
			t.Errorf("%v: expected malformed proof error, got %v", enc, err)
		}
	}
}

// echoWasm is a hand-assembled module whose execute charges 5 cycles and
// copies stdin to the output through the env host functions.
var echoWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type section: ()->i32, (i32)->(), (i32,i32)->(), ()->()
	0x01, 0x11, 0x04,
	0x60, 0x00, 0x01, 0x7f,
	0x60, 0x01, 0x7f, 0x00,
	0x60, 0x02, 0x7f, 0x7f, 0x00,
	0x60, 0x00, 0x00,
	// import section: env.gas, env.input_len, env.read_input, env.write_output
	0x02, 0x3f, 0x04,
	0x03, 'e', 'n', 'v', 0x03, 'g', 'a', 's', 0x00, 0x01,
	0x03, 'e', 'n', 'v', 0x09, 'i', 'n', 'p', 'u', 't', '_', 'l', 'e', 'n', 0x00, 0x00,
	0x03, 'e', 'n', 'v', 0x0a, 'r', 'e', 'a', 'd', '_', 'i', 'n', 'p', 'u', 't', 0x00, 0x01,
	0x03, 'e', 'n', 'v', 0x0c, 'w', 'r', 'i', 't', 'e', '_', 'o', 'u', 't', 'p', 'u', 't', 0x00, 0x02,
	// function section: one function of type 3
	0x03, 0x02, 0x01, 0x03,
	// memory section: one page
	0x05, 0x03, 0x01, 0x00, 0x01,
	// export section: memory, execute (function 4)
	0x07, 0x14, 0x02,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x07, 'e', 'x', 'e', 'c', 'u', 't', 'e', 0x00, 0x04,
	// code section
	0x0a, 0x12, 0x01, 0x10, 0x00,
	0x41, 0x05, 0x10, 0x00, // gas(5)
	0x41, 0x00, 0x10, 0x02, // read_input(0)
	0x41, 0x00, 0x10, 0x01, 0x10, 0x03, // write_output(0, input_len())
	0x0b,
}

// TestWasmMachine_Echo tests loading and executing a WASM program with wazero.
func TestWasmMachine_Echo(t *testing.T) {
	ctx := context.Background()

	machine, err := NewWasmMachine(ctx)
	if err != nil {
		t.Fatalf("create machine: %v", err)
	}

	l, err := NewLocal(LocalConfig{Machine: machine, Secret: testSecret})
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}
	defer l.Close()

	program := NewProgram("echo", echoWasm)

	exec, err := l.Execute(ctx, program, []byte("public output"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if string(exec.PublicValues) != "public output" {
		t.Errorf("output = %q", exec.PublicValues)
	}

	if exec.Report.Cycles != 5 {
		t.Errorf("cycles = %d, want 5", exec.Report.Cycles)
	}

	pk, vk, err := l.Setup(ctx, program)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	artifact, err := l.Prove(ctx, pk, []byte("abc"), EncodingPlonk)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	if err := VerifyArtifact(vk, artifact); err != nil {
		t.Errorf("verify: %v", err)
	}
}

func TestWasmMachine_CycleLimit(t *testing.T) {
	ctx := context.Background()

	machine, err := NewWasmMachine(ctx)
	if err != nil {
		t.Fatalf("create machine: %v", err)
	}
	defer machine.Close()

	_, _, err = machine.Run(ctx, NewProgram("echo", echoWasm), []byte("x"), 4)
	if !errors.Is(err, ErrCycleLimit) {
		t.Errorf("expected ErrCycleLimit, got %v", err)
	}
}

// TestWasmMachine_MemoryFault tests that out-of-bounds host copies abort the run.
func TestWasmMachine_MemoryFault(t *testing.T) {
	ctx := context.Background()

	machine, err := NewWasmMachine(ctx)
	if err != nil {
		t.Fatalf("create machine: %v", err)
	}
	defer machine.Close()

	tests := []struct {
		name string
		call []byte
	}{
		{"read_input", []byte{0x41, 0x00, 0x10, 0x02}},
		{"write_output", []byte{0x41, 0x00, 0x10, 0x01, 0x10, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Same module with the call's pointer replaced by -1.
			image := bytes.Clone(echoWasm)
			i := bytes.Index(image, tt.call)
			if i < 0 {
				t.Fatalf("call not found in module")
			}
			image[i+1] = 0x7f

			_, _, err := machine.Run(ctx, NewProgram(tt.name, image), []byte("abc"), 100)
			if !errors.Is(err, ErrMemoryAccess) {
				t.Errorf("expected ErrMemoryAccess, got %v", err)
			}
		})
	}
}

func TestWasmMachine_RejectsInvalidImage(t *testing.T) {
	ctx := context.Background()

	machine, err := NewWasmMachine(ctx)
	if err != nil {
		t.Fatalf("create machine: %v", err)
	}
	defer machine.Close()

	err = machine.Load(ctx, NewProgram("junk", []byte("not wasm")))
	if !errors.Is(err, ErrUnsupportedProgram) {
		t.Errorf("expected ErrUnsupportedProgram, got %v", err)
	}

	err = machine.Load(ctx, BuiltinProgram())
	if err == nil || !strings.Contains(err.Error(), "native machine") {
		t.Errorf("expected built-in rejection, got %v", err)
	}
}
