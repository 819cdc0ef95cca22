//go:build wasip1

// Command aggregator is the WASM build of the aggregator program.
//
// Build with:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o programs/aggregator/build/aggregator.wasm ./programs/aggregator
package main

import (
	"unsafe"

	"zkbind/internal/guest"
)

//go:wasmimport env gas
func gas(cost uint32)

//go:wasmimport env input_len
func inputLen() uint32

//go:wasmimport env read_input
func readInput(ptr unsafe.Pointer)

//go:wasmimport env write_output
func writeOutput(ptr unsafe.Pointer, length uint32)

//go:wasmexport execute
func execute() {
	stdin := make([]byte, inputLen())
	if len(stdin) > 0 {
		readInput(unsafe.Pointer(&stdin[0]))
	}

	public, err := guest.Run(stdin, func(cost uint32) { gas(cost) })
	if err != nil {
		panic(err)
	}

	if len(public) > 0 {
		writeOutput(unsafe.Pointer(&public[0]), uint32(len(public)))
	}
}

func main() {}
