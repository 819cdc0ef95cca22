package bls

import (
	"bytes"
	"testing"
)

func newKey(t *testing.T, b byte) *KeyPair {
	t.Helper()

	kp, err := FromSeed(bytes.Repeat([]byte{b}, seedSize))
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	return kp
}

// TestSignVerify tests a signature round trip and rejection of a tampered message.
func TestSignVerify(t *testing.T) {
	kp := newKey(t, 1)

	msg := []byte("public values digest")
	sig := kp.Sign(msg)

	if len(sig) != SignatureSize {
		t.Fatalf("signature size = %d, want %d", len(sig), SignatureSize)
	}

	if !Verify(sig, msg, kp.PublicKey()) {
		t.Fatal("valid signature rejected")
	}

	if Verify(sig, []byte("other digest"), kp.PublicKey()) {
		t.Error("signature over another message accepted")
	}
}

// TestVerify_WrongKey tests that a signature does not verify under another key.
func TestVerify_WrongKey(t *testing.T) {
	a := newKey(t, 1)
	b := newKey(t, 2)

	msg := []byte("m")
	if Verify(a.Sign(msg), msg, b.PublicKey()) {
		t.Error("signature verified under wrong key")
	}
}

// TestVerify_BadSizes tests rejection of truncated inputs.
func TestVerify_BadSizes(t *testing.T) {
	kp := newKey(t, 3)
	sig := kp.Sign([]byte("m"))

	if Verify(sig[:10], []byte("m"), kp.PublicKey()) {
		t.Error("truncated signature accepted")
	}

	if Verify(sig, []byte("m"), kp.PublicKey()[:10]) {
		t.Error("truncated public key accepted")
	}
}

// TestDerive_Deterministic tests that derivation depends on secret and info only.
func TestDerive_Deterministic(t *testing.T) {
	a, err := Derive([]byte("operator secret"), nil, []byte("program-1"))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	b, _ := Derive([]byte("operator secret"), nil, []byte("program-1"))
	c, _ := Derive([]byte("operator secret"), nil, []byte("program-2"))

	if !bytes.Equal(a.PublicKey(), b.PublicKey()) {
		t.Error("same inputs produced different keys")
	}

	if bytes.Equal(a.PublicKey(), c.PublicKey()) {
		t.Error("different info produced the same key")
	}

	if _, err := Derive(nil, nil, []byte("x")); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestFromSeed_Short(t *testing.T) {
	if _, err := FromSeed(make([]byte, seedSize-1)); err == nil {
		t.Error("expected error for a short seed")
	}
}

func TestValidPublicKey(t *testing.T) {
	kp := newKey(t, 3)

	if !ValidPublicKey(kp.PublicKey()) {
		t.Error("generated public key reported invalid")
	}

	if ValidPublicKey(make([]byte, PublicKeySize)) {
		t.Error("zero bytes reported as valid key")
	}
}
