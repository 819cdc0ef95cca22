package backend

import (
	"context"
	"errors"
	"fmt"

	"zkbind/internal/guest"
)

var (
	// ErrCycleLimit is returned when execution exceeds its cycle limit.
	ErrCycleLimit = errors.New("cycle limit exceeded")

	// ErrMemoryAccess is returned when a program hands the host an out-of-bounds buffer.
	ErrMemoryAccess = errors.New("guest memory access out of bounds")

	// ErrUnsupportedProgram is returned when a machine cannot run a program image.
	ErrUnsupportedProgram = errors.New("unsupported program image")
)

// Machine runs program images and meters their work.
type Machine interface {
	// Load prepares a program for execution. Loading twice is a no-op.
	Load(ctx context.Context, program *Program) error

	// Run executes a program over stdin and returns its output and cycle count.
	Run(ctx context.Context, program *Program, stdin []byte, cycleLimit uint64) ([]byte, uint64, error)

	// Close releases the machine's resources.
	Close() error
}

// NativeMachine runs the built-in aggregator in process.
type NativeMachine struct{}

// Load accepts only the built-in program.
func (NativeMachine) Load(_ context.Context, program *Program) error {
	if !program.IsBuiltin() {
		return fmt.Errorf("%w: native machine runs only the built-in program", ErrUnsupportedProgram)
	}

	return nil
}

// Run executes the built-in aggregator.
func (m NativeMachine) Run(ctx context.Context, program *Program, stdin []byte, cycleLimit uint64) (out []byte, cycles uint64, err error) {
	if err := m.Load(ctx, program); err != nil {
		return nil, 0, err
	}

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	defer func() {
		if r := recover(); r != nil {
			if r != errCycleLimitPanic {
				panic(r)
			}

			out, err = nil, ErrCycleLimit
		}
	}()

	meter := func(cost uint32) {
		cycles += uint64(cost)

		if cycles > cycleLimit {
			panic(errCycleLimitPanic)
		}
	}

	out, err = guest.Run(stdin, meter)

	return out, cycles, err
}

// Close is a no-op.
func (NativeMachine) Close() error {
	return nil
}

// errCycleLimitPanic unwinds a metered run that exceeded its limit.
var errCycleLimitPanic = errors.New("cycle limit panic")
