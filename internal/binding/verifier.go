package binding

import (
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"zkbind/internal/bls"
)

// attestationDomain separates attestation digests from every other blake3 use.
const attestationDomain = "zkbind-attest-v1"

// ErrMissingAttestation is returned when an attestation is required but absent.
var ErrMissingAttestation = errors.New("missing attestation")

// Claim is one upstream proof presented for verification.
type Claim struct {
	Side          Side     // Side is the proof being verified
	Proof         string   // Proof is the canonical proof string
	PublicSignals []string // PublicSignals are the proof's public signals
	Attestation   []byte   // Attestation is an optional upstream verifier signature
}

// Verifier decides whether an upstream proof is cryptographically acceptable.
// Implementations must be safe for concurrent use.
type Verifier interface {
	Verify(c Claim) (bool, error)
}

// StructuralVerifier accepts every claim that passed the structural checks.
//
// It does not verify the Groth16 proofs themselves: the caller is trusted to
// have verified both proofs before submitting them. Configure an
// AttestationVerifier to remove that assumption.
type StructuralVerifier struct{}

// Verify always accepts.
func (StructuralVerifier) Verify(Claim) (bool, error) {
	return true, nil
}

// AttestationVerifier accepts a proof only when a trusted upstream verification
// service has signed its digest with a BLS key.
type AttestationVerifier struct {
	publicKey []byte // publicKey is the compressed BLS key of the upstream verifier
}

// NewAttestationVerifier creates a verifier trusting the given compressed BLS public key.
func NewAttestationVerifier(publicKey []byte) (*AttestationVerifier, error) {
	if !bls.ValidPublicKey(publicKey) {
		return nil, fmt.Errorf("invalid attestation public key")
	}

	pk := make([]byte, len(publicKey))
	copy(pk, publicKey)

	return &AttestationVerifier{publicKey: pk}, nil
}

// Verify checks the claim's attestation against its digest.
func (v *AttestationVerifier) Verify(c Claim) (bool, error) {
	if len(c.Attestation) == 0 {
		return false, ErrMissingAttestation
	}

	digest := AttestationDigest(c.Side, c.Proof, c.PublicSignals)

	return bls.Verify(c.Attestation, digest[:], v.publicKey), nil
}

// Attest signs the digest of a proof the way an upstream verifier does.
func Attest(key *bls.KeyPair, side Side, proof string, publicSignals []string) []byte {
	digest := AttestationDigest(side, proof, publicSignals)
	return key.Sign(digest[:])
}

// AttestationDigest computes the message an upstream verifier signs.
// Each variable-length field is length-prefixed so that boundaries are unambiguous.
func AttestationDigest(side Side, proof string, publicSignals []string) [32]byte {
	h := blake3.New()
	h.Write([]byte(attestationDomain))
	h.Write([]byte{byte(side)})
	writeField(h, []byte(proof))

	writeUint32(h, uint32(len(publicSignals)))
	for _, s := range publicSignals {
		writeField(h, []byte(s))
	}

	var digest [32]byte
	h.Sum(digest[:0])

	return digest
}

func writeField(h *blake3.Hasher, b []byte) {
	writeUint32(h, uint32(len(b)))
	h.Write(b)
}

func writeUint32(h *blake3.Hasher, v uint32) {
	h.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}
