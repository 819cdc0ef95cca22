package backend

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"zkbind/internal/bls"
)

// proofVersion is the first byte of every proof envelope.
const proofVersion = 1

// proofDomain separates proof digests from other hashes.
var proofDomain = []byte("zkbind-proof-v1")

// selectorSize is the size of the verifying key selector prefixed to on-chain proofs.
const selectorSize = 4

var (
	// ErrInvalidProof is returned when a proof does not verify.
	ErrInvalidProof = errors.New("invalid proof")

	// ErrMalformedProof is returned when a proof cannot be decoded.
	ErrMalformedProof = errors.New("malformed proof")
)

// Envelope sizes.
const (
	// coreHeaderSize is [1B version] [1B encoding] [32B program hash] [4B public values length].
	coreHeaderSize = 1 + 1 + 32 + 4

	// compactSize is [1B version] [1B encoding] [32B digest] [96B signature].
	compactSize = 1 + 1 + 32 + bls.SignatureSize
)

// proofDigest is the message signed by the prover.
func proofDigest(encoding Encoding, programHash [32]byte, publicValues []byte) [32]byte {
	h := blake3.New()
	h.Write(proofDomain)
	h.Write([]byte{byte(encoding)})
	h.Write(programHash[:])
	h.Write(publicValues)

	var digest [32]byte
	h.Sum(digest[:0])

	return digest
}

// sealProof signs the public values and frames the signature for the encoding.
//
// Core:       [1B version] [1B encoding] [32B program hash] [4B len] [public values] [96B sig]
// Compressed: zstd(Core)
// Groth16:    [4B selector] [1B version] [1B encoding] [32B digest] [96B sig]
// Plonk:      same layout as Groth16
func sealProof(signer *bls.KeyPair, vk *VerifyingKey, encoding Encoding, publicValues []byte) ([]byte, error) {
	digest := proofDigest(encoding, vk.ProgramHash, publicValues)
	sig := signer.Sign(digest[:])

	switch encoding {
	case EncodingCore:
		return encodeCore(encoding, vk.ProgramHash, publicValues, sig), nil

	case EncodingCompressed:
		return compress(encodeCore(encoding, vk.ProgramHash, publicValues, sig))

	case EncodingGroth16, EncodingPlonk:
		selector := vk.Bytes32()

		buf := make([]byte, 0, selectorSize+compactSize)
		buf = append(buf, selector[:selectorSize]...)
		buf = append(buf, proofVersion, byte(encoding))
		buf = append(buf, digest[:]...)

		return append(buf, sig...), nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownEncoding, encoding)
	}
}

func encodeCore(encoding Encoding, programHash [32]byte, publicValues, sig []byte) []byte {
	buf := make([]byte, 0, coreHeaderSize+len(publicValues)+len(sig))
	buf = append(buf, proofVersion, byte(encoding))
	buf = append(buf, programHash[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(publicValues)))
	buf = append(buf, publicValues...)

	return append(buf, sig...)
}

// VerifyArtifact checks a proof artifact against a verifying key.
func VerifyArtifact(vk *VerifyingKey, artifact *ProofArtifact) error {
	switch artifact.Encoding {
	case EncodingCore:
		return verifyCore(vk, artifact.Encoding, artifact.Proof, artifact.PublicValues)

	case EncodingCompressed:
		core, err := decompress(artifact.Proof)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedProof, err)
		}

		return verifyCore(vk, artifact.Encoding, core, artifact.PublicValues)

	case EncodingGroth16, EncodingPlonk:
		return verifyCompact(vk, artifact.Encoding, artifact.Proof, artifact.PublicValues)

	default:
		return fmt.Errorf("%w: %d", ErrUnknownEncoding, artifact.Encoding)
	}
}

func verifyCore(vk *VerifyingKey, encoding Encoding, proof, publicValues []byte) error {
	if len(proof) < coreHeaderSize+bls.SignatureSize {
		return fmt.Errorf("%w: core proof too short: %d", ErrMalformedProof, len(proof))
	}

	if proof[0] != proofVersion || Encoding(proof[1]) != encoding {
		return fmt.Errorf("%w: unexpected header %x", ErrMalformedProof, proof[:2])
	}

	if !bytes.Equal(proof[2:34], vk.ProgramHash[:]) {
		return fmt.Errorf("%w: program hash mismatch", ErrInvalidProof)
	}

	n := binary.BigEndian.Uint32(proof[34:38])
	if uint64(len(proof)) != uint64(coreHeaderSize)+uint64(n)+bls.SignatureSize {
		return fmt.Errorf("%w: public values length %d does not match proof size", ErrMalformedProof, n)
	}

	committed := proof[coreHeaderSize : coreHeaderSize+int(n)]
	if !bytes.Equal(committed, publicValues) {
		return fmt.Errorf("%w: public values mismatch", ErrInvalidProof)
	}

	digest := proofDigest(encoding, vk.ProgramHash, publicValues)
	if !bls.Verify(proof[coreHeaderSize+int(n):], digest[:], vk.PublicKey) {
		return fmt.Errorf("%w: bad signature", ErrInvalidProof)
	}

	return nil
}

func verifyCompact(vk *VerifyingKey, encoding Encoding, proof, publicValues []byte) error {
	if len(proof) != selectorSize+compactSize {
		return fmt.Errorf("%w: proof size %d, want %d", ErrMalformedProof, len(proof), selectorSize+compactSize)
	}

	selector := vk.Bytes32()
	if !bytes.Equal(proof[:selectorSize], selector[:selectorSize]) {
		return fmt.Errorf("%w: verifying key selector mismatch", ErrInvalidProof)
	}

	body := proof[selectorSize:]
	if body[0] != proofVersion || Encoding(body[1]) != encoding {
		return fmt.Errorf("%w: unexpected header %x", ErrMalformedProof, body[:2])
	}

	digest := proofDigest(encoding, vk.ProgramHash, publicValues)
	if !bytes.Equal(body[2:34], digest[:]) {
		return fmt.Errorf("%w: public values mismatch", ErrInvalidProof)
	}

	if !bls.Verify(body[34:], digest[:], vk.PublicKey) {
		return fmt.Errorf("%w: bad signature", ErrInvalidProof)
	}

	return nil
}

// compress compresses a core proof using zstd.
func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompress decompresses a zstd-compressed core proof.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
