package network

import (
	"errors"

	flatbuffers "github.com/google/flatbuffers/go"

	"zkbind/internal/types"
)

// ErrMalformedMessage is returned when a frame payload is not a valid message.
var ErrMalformedMessage = errors.New("malformed message")

// minMessageSize is the smallest possible FlatBuffers table.
const minMessageSize = 8

type setupRequest struct {
	name  string // name is the program label
	image []byte // image is the program binary
}

type setupResponse struct {
	verifyingKey []byte // verifyingKey is the encoded verifying key
	err          string // err is set when setup failed
}

type executeRequest struct {
	name  string // name is the program label
	image []byte // image is the program binary
	stdin []byte // stdin is the canonical program input
}

type executeResponse struct {
	publicValues []byte // publicValues are the committed values
	cycles       uint64 // cycles is the metered instruction count
	err          string // err is set when execution failed
}

type proveRequest struct {
	programHash []byte // programHash selects a program set up earlier
	stdin       []byte // stdin is the canonical program input
	encoding    byte   // encoding is the requested proof encoding
}

type proveResponse struct {
	proof        []byte // proof is the encoded proof
	publicValues []byte // publicValues are the committed values
	encoding     byte   // encoding is the proof encoding
	err          string // err is set when proving failed
}

// guard converts a FlatBuffers panic on malformed input into ErrMalformedMessage.
func guard(err *error) {
	if r := recover(); r != nil {
		*err = ErrMalformedMessage
	}
}

// createString adds s to the builder, or returns 0 when s is empty.
func createString(builder *flatbuffers.Builder, s string) flatbuffers.UOffsetT {
	if s == "" {
		return 0
	}

	return builder.CreateString(s)
}

func (m *setupRequest) encode() []byte {
	builder := flatbuffers.NewBuilder(len(m.image) + 64)

	nameOff := builder.CreateString(m.name)
	imageVec := builder.CreateByteVector(m.image)

	types.SetupRequestStart(builder)
	types.SetupRequestAddProgramName(builder, nameOff)
	types.SetupRequestAddImage(builder, imageVec)
	builder.Finish(types.SetupRequestEnd(builder))

	return builder.FinishedBytes()
}

func decodeSetupRequest(data []byte) (m *setupRequest, err error) {
	defer guard(&err)

	if len(data) < minMessageSize {
		return nil, ErrMalformedMessage
	}

	msg := types.GetRootAsSetupRequest(data, 0)

	return &setupRequest{
		name:  string(msg.ProgramName()),
		image: msg.ImageBytes(),
	}, nil
}

func (m *setupResponse) encode() []byte {
	builder := flatbuffers.NewBuilder(128)

	vkVec := builder.CreateByteVector(m.verifyingKey)
	errOff := createString(builder, m.err)

	types.SetupResponseStart(builder)
	types.SetupResponseAddVerifyingKey(builder, vkVec)
	if errOff != 0 {
		types.SetupResponseAddError(builder, errOff)
	}
	builder.Finish(types.SetupResponseEnd(builder))

	return builder.FinishedBytes()
}

func decodeSetupResponse(data []byte) (m *setupResponse, err error) {
	defer guard(&err)

	if len(data) < minMessageSize {
		return nil, ErrMalformedMessage
	}

	msg := types.GetRootAsSetupResponse(data, 0)

	return &setupResponse{
		verifyingKey: msg.VerifyingKeyBytes(),
		err:          string(msg.Error()),
	}, nil
}

func (m *executeRequest) encode() []byte {
	builder := flatbuffers.NewBuilder(len(m.image) + len(m.stdin) + 64)

	nameOff := builder.CreateString(m.name)
	imageVec := builder.CreateByteVector(m.image)
	stdinVec := builder.CreateByteVector(m.stdin)

	types.ExecuteRequestStart(builder)
	types.ExecuteRequestAddProgramName(builder, nameOff)
	types.ExecuteRequestAddImage(builder, imageVec)
	types.ExecuteRequestAddStdin(builder, stdinVec)
	builder.Finish(types.ExecuteRequestEnd(builder))

	return builder.FinishedBytes()
}

func decodeExecuteRequest(data []byte) (m *executeRequest, err error) {
	defer guard(&err)

	if len(data) < minMessageSize {
		return nil, ErrMalformedMessage
	}

	msg := types.GetRootAsExecuteRequest(data, 0)

	return &executeRequest{
		name:  string(msg.ProgramName()),
		image: msg.ImageBytes(),
		stdin: msg.StdinBytes(),
	}, nil
}

func (m *executeResponse) encode() []byte {
	builder := flatbuffers.NewBuilder(len(m.publicValues) + 64)

	valuesVec := builder.CreateByteVector(m.publicValues)
	errOff := createString(builder, m.err)

	types.ExecuteResponseStart(builder)
	types.ExecuteResponseAddPublicValues(builder, valuesVec)
	types.ExecuteResponseAddCycles(builder, m.cycles)
	if errOff != 0 {
		types.ExecuteResponseAddError(builder, errOff)
	}
	builder.Finish(types.ExecuteResponseEnd(builder))

	return builder.FinishedBytes()
}

func decodeExecuteResponse(data []byte) (m *executeResponse, err error) {
	defer guard(&err)

	if len(data) < minMessageSize {
		return nil, ErrMalformedMessage
	}

	msg := types.GetRootAsExecuteResponse(data, 0)

	return &executeResponse{
		publicValues: msg.PublicValuesBytes(),
		cycles:       msg.Cycles(),
		err:          string(msg.Error()),
	}, nil
}

func (m *proveRequest) encode() []byte {
	builder := flatbuffers.NewBuilder(len(m.stdin) + 96)

	hashVec := builder.CreateByteVector(m.programHash)
	stdinVec := builder.CreateByteVector(m.stdin)

	types.ProveRequestStart(builder)
	types.ProveRequestAddProgramHash(builder, hashVec)
	types.ProveRequestAddStdin(builder, stdinVec)
	types.ProveRequestAddEncoding(builder, m.encoding)
	builder.Finish(types.ProveRequestEnd(builder))

	return builder.FinishedBytes()
}

func decodeProveRequest(data []byte) (m *proveRequest, err error) {
	defer guard(&err)

	if len(data) < minMessageSize {
		return nil, ErrMalformedMessage
	}

	msg := types.GetRootAsProveRequest(data, 0)

	return &proveRequest{
		programHash: msg.ProgramHashBytes(),
		stdin:       msg.StdinBytes(),
		encoding:    msg.Encoding(),
	}, nil
}

func (m *proveResponse) encode() []byte {
	builder := flatbuffers.NewBuilder(len(m.proof) + len(m.publicValues) + 64)

	proofVec := builder.CreateByteVector(m.proof)
	valuesVec := builder.CreateByteVector(m.publicValues)
	errOff := createString(builder, m.err)

	types.ProveResponseStart(builder)
	types.ProveResponseAddProof(builder, proofVec)
	types.ProveResponseAddPublicValues(builder, valuesVec)
	types.ProveResponseAddEncoding(builder, m.encoding)
	if errOff != 0 {
		types.ProveResponseAddError(builder, errOff)
	}
	builder.Finish(types.ProveResponseEnd(builder))

	return builder.FinishedBytes()
}

func decodeProveResponse(data []byte) (m *proveResponse, err error) {
	defer guard(&err)

	if len(data) < minMessageSize {
		return nil, ErrMalformedMessage
	}

	msg := types.GetRootAsProveResponse(data, 0)

	return &proveResponse{
		proof:        msg.ProofBytes(),
		publicValues: msg.PublicValuesBytes(),
		encoding:     msg.Encoding(),
		err:          string(msg.Error()),
	}, nil
}
