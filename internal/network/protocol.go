package network

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// maxMessageSize is the maximum allowed frame size (32 MB), large enough for a program image.
	maxMessageSize = 32 << 20

	// lengthPrefixSize is the size of the length prefix in bytes.
	lengthPrefixSize = 4

	// alpnProtocol is the ALPN protocol identifier of the prover protocol.
	alpnProtocol = "zkbind-prover/1"
)

// Message kinds. The kind byte follows the length prefix of every frame.
const (
	kindSetup   byte = 1 // kindSetup carries SetupRequest / SetupResponse
	kindExecute byte = 2 // kindExecute carries ExecuteRequest / ExecuteResponse
	kindProve   byte = 3 // kindProve carries ProveRequest / ProveResponse
)

// writeFrame writes one frame to the writer.
// Format: [4 bytes big-endian length] [1 byte kind] [FlatBuffers payload]
// The length covers the kind byte and the payload.
func writeFrame(w io.Writer, kind byte, payload []byte) error {
	size := len(payload) + 1
	if size > maxMessageSize {
		return fmt.Errorf("message too large: %d > %d", size, maxMessageSize)
	}

	buf := make([]byte, lengthPrefixSize+size)
	binary.BigEndian.PutUint32(buf[:lengthPrefixSize], uint32(size))
	buf[lengthPrefixSize] = kind
	copy(buf[lengthPrefixSize+1:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

// readFrame reads one frame and returns its kind and payload.
func readFrame(r io.Reader) (byte, []byte, error) {
	var lengthBuf [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("read length: %w", err)
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])

	if size == 0 {
		return 0, nil, fmt.Errorf("empty frame")
	}

	if size > maxMessageSize {
		return 0, nil, fmt.Errorf("message too large: %d > %d", size, maxMessageSize)
	}

	data := make([]byte, size)

	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, fmt.Errorf("read payload: %w", err)
	}

	return data[0], data[1:], nil
}
