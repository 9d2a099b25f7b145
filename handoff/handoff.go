// Package handoff transfers control from the loader to the embedded
// runtime after the payload has been unpacked.
//
// The runtime is a WebAssembly module (a WASI command) shipped inside the
// payload. Loading and execution sit behind small interfaces so the
// lifecycle can be driven with fakes in tests and so alternative loading
// strategies can be added without touching the loader.
package handoff

import "context"

// Loader loads an unpacked runtime module and prepares it for execution.
type Loader interface {
	// Load reads the module at path and verifies that all required entry
	// symbols are exported. It fails with KindLoadFailure when the file is
	// absent or not a compatible module, and with KindSymbolNotFound when
	// a required export is missing. Neither failure is worth retrying.
	Load(ctx context.Context, path string) (Runtime, error)
}

// Runtime is a loaded runtime ready to execute.
type Runtime interface {
	// Run invokes the runtime's entry point with the given process
	// arguments. workDir is the unpacked payload directory; it is exposed
	// to the runtime as its filesystem root and via the environment.
	// A nonzero runtime exit is reported as KindRuntimeFailure.
	Run(ctx context.Context, args []string, workDir string) error

	// Close releases the runtime and all resources held for it.
	Close(ctx context.Context) error
}
