package bls

import (
	"crypto/sha256"
	"fmt"
	"io"

	blst "github.com/supranational/blst/bindings/go"
	"golang.org/x/crypto/hkdf"
)

const (
	// PublicKeySize is the size of a compressed BLS public key in bytes.
	PublicKeySize = 48

	// SignatureSize is the size of a compressed BLS signature in bytes.
	SignatureSize = 96

	// seedSize is the size of the key material fed to KeyGen.
	seedSize = 32
)

// dst is the domain separation tag for BLS signatures.
var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// KeyPair holds a BLS private/public key pair.
type KeyPair struct {
	secret *blst.SecretKey // secret is the private key
	public *blst.P1Affine  // public is the public key
}

// Derive expands secret into a key pair bound to info using HKDF-SHA256.
// The same secret and info always yield the same key pair.
func Derive(secret, salt, info []byte) (*KeyPair, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty key derivation secret")
	}

	seed := make([]byte, seedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), seed); err != nil {
		return nil, fmt.Errorf("derive seed:\n%w", err)
	}

	return FromSeed(seed)
}

// FromSeed creates a key pair from a deterministic seed of at least 32 bytes.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) < seedSize {
		return nil, fmt.Errorf("seed must be at least %d bytes", seedSize)
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}

	return &KeyPair{
		secret: secret,
		public: new(blst.P1Affine).From(secret),
	}, nil
}

// Sign creates a compressed signature over message.
func (k *KeyPair) Sign(message []byte) []byte {
	sig := new(blst.P2Affine).Sign(k.secret, message, dst)
	return sig.Compress()
}

// PublicKey returns the compressed public key bytes.
func (k *KeyPair) PublicKey() []byte {
	return k.public.Compress()
}

// Verify checks a compressed signature against a message and compressed public key.
func Verify(signature, message, publicKey []byte) bool {
	if len(signature) != SignatureSize || len(publicKey) != PublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, message, dst)
}

// ValidPublicKey reports whether b decodes to a usable public key.
func ValidPublicKey(b []byte) bool {
	if len(b) != PublicKeySize {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(b)

	return pk != nil && pk.KeyValidate()
}
