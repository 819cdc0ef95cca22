package guest

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// inputVersion is the first byte of every encoded Input.
const inputVersion = 1

// Binding modes carried in the input so the program enforces the host's policy.
const (
	BindingStrict  = 0 // BindingStrict asserts equal claim hashes
	BindingRelaxed = 1 // BindingRelaxed asserts present claim hashes
)

// ErrTruncated is returned when encoded data ends before a field is complete.
var ErrTruncated = errors.New("truncated data")

// Proof is one upstream proof as seen by the program.
type Proof struct {
	Proof         string
	PublicSignals []string
}

// Input is the program's stdin.
type Input struct {
	Binding             byte
	Generation          Proof
	Social              Proof
	SessionNonce        string
	VerifiedRoot        string
	MinVerifiedNeeded   uint32
	TargetGenerationID  uint32
	SelfNullifier       string
	GenerationClaimHash string
	SocialClaimHash     string
}

// AggregatedSignals are the values the program commits as public output.
type AggregatedSignals struct {
	SelfNullifier string
	GenerationID  uint32
	SocialLevel   uint32
	ClaimHash     string
}

// EncodeInput encodes an Input in Borsh layout.
// Format: u8 version, u8 binding, proofs, strings as u32 len + bytes, u32 little-endian integers.
func EncodeInput(in *Input) []byte {
	w := &writer{}
	w.u8(inputVersion)
	w.u8(in.Binding)
	w.proof(in.Generation)
	w.proof(in.Social)
	w.str(in.SessionNonce)
	w.str(in.VerifiedRoot)
	w.u32(in.MinVerifiedNeeded)
	w.u32(in.TargetGenerationID)
	w.str(in.SelfNullifier)
	w.str(in.GenerationClaimHash)
	w.str(in.SocialClaimHash)

	return w.buf
}

// DecodeInput decodes an Input encoded by EncodeInput.
func DecodeInput(data []byte) (*Input, error) {
	r := &reader{buf: data}

	version := r.u8()
	if r.err == nil && version != inputVersion {
		return nil, fmt.Errorf("unsupported input version %d", version)
	}

	in := &Input{Binding: r.u8()}
	in.Generation = r.proof()
	in.Social = r.proof()
	in.SessionNonce = r.str()
	in.VerifiedRoot = r.str()
	in.MinVerifiedNeeded = r.u32()
	in.TargetGenerationID = r.u32()
	in.SelfNullifier = r.str()
	in.GenerationClaimHash = r.str()
	in.SocialClaimHash = r.str()

	if r.err != nil {
		return nil, r.err
	}

	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after input", len(r.buf))
	}

	return in, nil
}

// EncodePublicValues encodes committed signals in commit order.
// Format: string self_nullifier, u32 generation_id, u32 social_level, string claim_hash.
func EncodePublicValues(s *AggregatedSignals) []byte {
	w := &writer{}
	w.str(s.SelfNullifier)
	w.u32(s.GenerationID)
	w.u32(s.SocialLevel)
	w.str(s.ClaimHash)

	return w.buf
}

// DecodePublicValues decodes the committed signals.
func DecodePublicValues(data []byte) (*AggregatedSignals, error) {
	r := &reader{buf: data}

	s := &AggregatedSignals{
		SelfNullifier: r.str(),
		GenerationID:  r.u32(),
		SocialLevel:   r.u32(),
		ClaimHash:     r.str(),
	}

	if r.err != nil {
		return nil, r.err
	}

	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after public values", len(r.buf))
	}

	return s, nil
}

type writer struct {
	buf []byte
}

func (w *writer) u8(b byte) {
	w.buf = append(w.buf, b)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) proof(p Proof) {
	w.str(p.Proof)
	w.u32(uint32(len(p.PublicSignals)))

	for _, s := range p.PublicSignals {
		w.str(s)
	}
}

// reader keeps the first error and returns zero values afterwards.
type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}

	if n < 0 || len(r.buf) < n {
		r.err = ErrTruncated
		return nil
	}

	b := r.buf[:n]
	r.buf = r.buf[n:]

	return b
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}

	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint32(b)
}

func (r *reader) str() string {
	n := r.u32()
	if r.err != nil {
		return ""
	}

	if uint64(n) > uint64(len(r.buf)) {
		r.err = ErrTruncated
		return ""
	}

	return string(r.take(int(n)))
}

func (r *reader) proof() Proof {
	p := Proof{Proof: r.str()}

	count := r.u32()
	if r.err != nil {
		return p
	}

	// Each signal needs at least its 4-byte length prefix.
	if uint64(count)*4 > uint64(len(r.buf)) {
		r.err = ErrTruncated
		return p
	}

	p.PublicSignals = make([]string, 0, count)
	for i := uint32(0); i < count && r.err == nil; i++ {
		p.PublicSignals = append(p.PublicSignals, r.str())
	}

	return p
}
