package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WasmMachine runs WASM program images with wazero.
// Programs are compiled once and kept hot-loaded for fast instantiation.
//
// A program exports "execute" and may import from the "env" module:
//   - gas(cost i32): charges cycles
//   - input_len() i32: returns the stdin length
//   - read_input(ptr i32): copies stdin to guest memory
//   - write_output(ptr i32, len i32): sets the public output
type WasmMachine struct {
	runtime wazero.Runtime                     // runtime is the wazero runtime instance
	modules map[[32]byte]wazero.CompiledModule // modules maps program hash to compiled module
	mu      sync.RWMutex                       // mu protects modules map
}

// execContext holds the execution state for a single WASM invocation.
type execContext struct {
	input        []byte // input is the canonical program input
	output       []byte // output is the committed public values
	cycleLimit   uint64 // cycleLimit is the maximum cycles allowed
	cycles       uint64 // cycles tracks consumed cycles
	limitReached bool   // limitReached is true if cycleLimit was exceeded
	memoryFault  bool   // memoryFault is true if a host copy was out of bounds
}

// execContextKey carries the execContext through host function calls.
type execContextKey struct{}

// NewWasmMachine creates a machine with WASI and the "env" host module instantiated.
func NewWasmMachine(ctx context.Context) (*WasmMachine, error) {
	runtime := wazero.NewRuntime(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi:\n%w", err)
	}

	if err := buildHostModule(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("build host module:\n%w", err)
	}

	return &WasmMachine{
		runtime: runtime,
		modules: make(map[[32]byte]wazero.CompiledModule),
	}, nil
}

// Load compiles and stores a program.
func (m *WasmMachine) Load(ctx context.Context, program *Program) error {
	if program.IsBuiltin() {
		return fmt.Errorf("%w: the built-in program needs the native machine", ErrUnsupportedProgram)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.modules[program.Hash]; exists {
		return nil
	}

	compiled, err := m.runtime.CompileModule(ctx, program.Image)
	if err != nil {
		return fmt.Errorf("%w: compile module: %v", ErrUnsupportedProgram, err)
	}

	if _, ok := compiled.ExportedFunctions()["execute"]; !ok {
		compiled.Close(ctx)
		return fmt.Errorf("%w: execute function not exported", ErrUnsupportedProgram)
	}

	m.modules[program.Hash] = compiled

	return nil
}

// Run loads the program if needed and executes it.
func (m *WasmMachine) Run(ctx context.Context, program *Program, stdin []byte, cycleLimit uint64) ([]byte, uint64, error) {
	if err := m.Load(ctx, program); err != nil {
		return nil, 0, err
	}

	m.mu.RLock()
	compiled := m.modules[program.Hash]
	m.mu.RUnlock()

	return m.executeModule(ctx, compiled, stdin, cycleLimit)
}

// executeModule instantiates and runs a compiled module.
func (m *WasmMachine) executeModule(ctx context.Context, compiled wazero.CompiledModule, input []byte, cycleLimit uint64) ([]byte, uint64, error) {
	execCtx := &execContext{
		input:      input,
		cycleLimit: cycleLimit,
	}

	ctx = context.WithValue(ctx, execContextKey{}, execCtx)

	// Anonymous instances let concurrent runs of one program coexist.
	config := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize")

	instance, err := m.runtime.InstantiateModule(ctx, compiled, config)
	if err != nil {
		return nil, execCtx.cycles, fmt.Errorf("instantiate module:\n%w", err)
	}
	defer instance.Close(ctx)

	_, err = instance.ExportedFunction("execute").Call(ctx)
	if err != nil {
		if execCtx.limitReached {
			return nil, execCtx.cycles, ErrCycleLimit
		}

		if execCtx.memoryFault {
			return nil, execCtx.cycles, ErrMemoryAccess
		}

		return nil, execCtx.cycles, fmt.Errorf("execute:\n%w", err)
	}

	return execCtx.output, execCtx.cycles, nil
}

// Close releases all resources held by the machine.
func (m *WasmMachine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx := context.Background()

	for hash, compiled := range m.modules {
		compiled.Close(ctx)
		delete(m.modules, hash)
	}

	return m.runtime.Close(ctx)
}

// buildHostModule instantiates the "env" module shared by every execution.
func buildHostModule(ctx context.Context, runtime wazero.Runtime) error {
	_, err := runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(hostGas).
		Export("gas").
		NewFunctionBuilder().
		WithFunc(hostInputLen).
		Export("input_len").
		NewFunctionBuilder().
		WithFunc(hostReadInput).
		Export("read_input").
		NewFunctionBuilder().
		WithFunc(hostWriteOutput).
		Export("write_output").
		Instantiate(ctx)

	return err
}

// execFrom returns the execContext of the current call.
func execFrom(ctx context.Context) *execContext {
	execCtx, _ := ctx.Value(execContextKey{}).(*execContext)
	return execCtx
}

// hostGas charges cycles.
// Panics if the cycle limit is exceeded to abort execution.
func hostGas(ctx context.Context, cost uint32) {
	execCtx := execFrom(ctx)
	if execCtx == nil {
		return
	}

	execCtx.cycles += uint64(cost)

	if execCtx.cycles > execCtx.cycleLimit {
		execCtx.limitReached = true
		panic("cycle limit exceeded")
	}
}

// hostInputLen returns the length of the input buffer.
func hostInputLen(ctx context.Context) uint32 {
	execCtx := execFrom(ctx)
	if execCtx == nil {
		return 0
	}

	return uint32(len(execCtx.input))
}

// hostReadInput copies the input buffer into guest memory at ptr.
// Panics if the buffer does not fit.
func hostReadInput(ctx context.Context, mod api.Module, ptr uint32) {
	execCtx := execFrom(ctx)
	if execCtx == nil || len(execCtx.input) == 0 {
		return
	}

	if !mod.Memory().Write(ptr, execCtx.input) {
		execCtx.memoryFault = true
		panic("read_input out of bounds")
	}
}

// hostWriteOutput copies length bytes at ptr from guest memory into the output.
// Panics if the range is out of bounds.
func hostWriteOutput(ctx context.Context, mod api.Module, ptr, length uint32) {
	execCtx := execFrom(ctx)
	if execCtx == nil || length == 0 {
		return
	}

	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		execCtx.memoryFault = true
		panic("write_output out of bounds")
	}

	execCtx.output = make([]byte, length)
	copy(execCtx.output, data)
}
