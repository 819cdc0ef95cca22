package backend

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"

	"zkbind/internal/bls"
)

// BuiltinImage is the program image of the aggregator compiled into this binary.
// Only the native machine can run it.
var BuiltinImage = []byte("zkbind/builtin-aggregator/v1")

// vkDomain separates verifying key digests from other hashes.
var vkDomain = []byte("zkbind-vk-v1")

// bn254ScalarField is the BN254 scalar field modulus. On-chain verifiers take
// the verifying key digest as a field element.
var bn254ScalarField = uint256.MustFromDecimal(
	"21888242871839275222246405745257275088548364400416034343698204186575808495617")

// vkSize is the encoded size of a VerifyingKey.
const vkSize = 32 + bls.PublicKeySize

// Program is an immutable program image identified by its blake3 hash.
type Program struct {
	Name  string   // Name is a human-readable label
	Image []byte   // Image is the program binary
	Hash  [32]byte // Hash is blake3(Image)
}

// NewProgram wraps an image. The image must not be modified afterwards.
func NewProgram(name string, image []byte) *Program {
	return &Program{
		Name:  name,
		Image: image,
		Hash:  blake3.Sum256(image),
	}
}

// BuiltinProgram returns the aggregator compiled into this binary.
func BuiltinProgram() *Program {
	return NewProgram("builtin", BuiltinImage)
}

// IsBuiltin reports whether p is the built-in aggregator.
func (p *Program) IsBuiltin() bool {
	return bytes.Equal(p.Image, BuiltinImage)
}

// VerifyingKey verifies proofs of one program.
type VerifyingKey struct {
	ProgramHash [32]byte // ProgramHash identifies the proven program
	PublicKey   []byte   // PublicKey is the prover's compressed BLS key
}

// Bytes32 returns the fixed-width digest accepted by on-chain verifiers.
// It is SHA-256 of the key reduced into the BN254 scalar field.
func (vk *VerifyingKey) Bytes32() [32]byte {
	h := sha256.New()
	h.Write(vkDomain)
	h.Write(vk.ProgramHash[:])
	h.Write(vk.PublicKey)

	var x uint256.Int
	x.SetBytes(h.Sum(nil))
	x.Mod(&x, bn254ScalarField)

	return x.Bytes32()
}

// HashBytes returns the native blake3 hash of the key.
func (vk *VerifyingKey) HashBytes() []byte {
	h := blake3.New()
	h.Write(vkDomain)
	h.Write(vk.ProgramHash[:])
	h.Write(vk.PublicKey)

	return h.Sum(nil)
}

// Encode serializes the key.
// Format: [32B program hash] [48B public key]
func (vk *VerifyingKey) Encode() []byte {
	buf := make([]byte, 0, vkSize)
	buf = append(buf, vk.ProgramHash[:]...)

	return append(buf, vk.PublicKey...)
}

// DecodeVerifyingKey parses a key produced by Encode.
func DecodeVerifyingKey(data []byte) (*VerifyingKey, error) {
	if len(data) != vkSize {
		return nil, fmt.Errorf("invalid verifying key size: got %d, want %d", len(data), vkSize)
	}

	vk := &VerifyingKey{PublicKey: make([]byte, bls.PublicKeySize)}
	copy(vk.ProgramHash[:], data[:32])
	copy(vk.PublicKey, data[32:])

	if !bls.ValidPublicKey(vk.PublicKey) {
		return nil, fmt.Errorf("invalid verifying key public key")
	}

	return vk, nil
}

// ProvingKey proves executions of one program.
// Keys produced by a remote backend carry no signer and can only be used there.
type ProvingKey struct {
	Program      *Program      // Program is the program this key proves
	VerifyingKey *VerifyingKey // VerifyingKey is the matching verifying key
	signer       *bls.KeyPair  // signer is set for keys derived in this process
}

// NewRemoteProvingKey creates a key whose secret half lives on a remote prover.
func NewRemoteProvingKey(program *Program, vk *VerifyingKey) *ProvingKey {
	return &ProvingKey{Program: program, VerifyingKey: vk}
}
