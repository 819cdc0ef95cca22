package guest

import (
	"errors"
	"reflect"
	"testing"
)

func testInput() *Input {
	return &Input{
		Binding:             BindingStrict,
		Generation:          Proof{Proof: `{"publicSignals":["1"]}`, PublicSignals: []string{"1"}},
		Social:              Proof{Proof: `{"publicSignals":["5"]}`, PublicSignals: []string{"5"}},
		SessionNonce:        "n1",
		VerifiedRoot:        "r",
		MinVerifiedNeeded:   10,
		TargetGenerationID:  2,
		SelfNullifier:       "nul1",
		GenerationClaimHash: "h",
		SocialClaimHash:     "h",
	}
}

// TestInputRoundTrip tests that decoding restores every field.
func TestInputRoundTrip(t *testing.T) {
	in := testInput()

	got, err := DecodeInput(EncodeInput(in))
	if err != nil {
		t.Fatalf("DecodeInput failed: %v", err)
	}

	if !reflect.DeepEqual(got, in) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, in)
	}
}

// TestDecodeInput_Truncated tests that every truncation point is rejected.
func TestDecodeInput_Truncated(t *testing.T) {
	data := EncodeInput(testInput())

	for n := 0; n < len(data); n++ {
		if _, err := DecodeInput(data[:n]); err == nil {
			t.Fatalf("truncated input of %d bytes accepted", n)
		}
	}
}

func TestDecodeInput_TrailingBytes(t *testing.T) {
	data := append(EncodeInput(testInput()), 0)

	if _, err := DecodeInput(data); err == nil {
		t.Error("expected error for trailing bytes")
	}
}

func TestDecodeInput_HugeSignalCount(t *testing.T) {
	// version, binding, empty proof string, signal count 0xffffffff
	data := []byte{inputVersion, 0, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}

	if _, err := DecodeInput(data); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

// TestRun_CommitsProjection tests that the public values are the projected signals.
func TestRun_CommitsProjection(t *testing.T) {
	var cycles uint64
	meter := func(cost uint32) { cycles += uint64(cost) }

	public, err := Run(EncodeInput(testInput()), meter)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	signals, err := DecodePublicValues(public)
	if err != nil {
		t.Fatalf("DecodePublicValues failed: %v", err)
	}

	want := &AggregatedSignals{SelfNullifier: "nul1", GenerationID: 2, SocialLevel: 10, ClaimHash: "h"}
	if !reflect.DeepEqual(signals, want) {
		t.Errorf("signals = %+v, want %+v", signals, want)
	}

	if cycles == 0 {
		t.Error("expected metered cycles")
	}
}

// TestRun_Assertions tests the in-program checks.
func TestRun_Assertions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *Input)
	}{
		{"claim mismatch", func(in *Input) { in.SocialClaimHash = "x" }},
		{"empty generation", func(in *Input) { in.Generation.Proof = "" }},
		{"empty social signals", func(in *Input) { in.Social.PublicSignals = nil }},
		{"empty nullifier", func(in *Input) { in.SelfNullifier = "" }},
		{"empty nonce", func(in *Input) { in.SessionNonce = "" }},
		{"relaxed empty hash", func(in *Input) { in.Binding = BindingRelaxed; in.SocialClaimHash = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testInput()
			tt.mutate(in)

			if _, err := Run(EncodeInput(in), nil); !errors.Is(err, ErrAssertion) {
				t.Errorf("expected ErrAssertion, got %v", err)
			}
		})
	}
}

func TestRun_RelaxedAcceptsDistinctHashes(t *testing.T) {
	in := testInput()
	in.Binding = BindingRelaxed
	in.SocialClaimHash = "other"

	if _, err := Run(EncodeInput(in), nil); err != nil {
		t.Errorf("relaxed binding rejected distinct hashes: %v", err)
	}
}

func TestRun_BadInput(t *testing.T) {
	if _, err := Run([]byte{9}, nil); err == nil {
		t.Error("expected error for unsupported version")
	}
}
