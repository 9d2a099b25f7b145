package handoff

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	herr "github.com/arvhal/husk/errors"
)

// Required exports of a runtime module. entryExport is the WASI command
// entry point that Run invokes.
const (
	entryExport  = "_start"
	memoryExport = "memory"
)

// EnvWorkDir names the environment variable through which the runtime
// receives the host path of the work directory.
const EnvWorkDir = "HUSK_WORKDIR"

// WazeroLoader loads runtime modules with the wazero engine.
type WazeroLoader struct {
	log    *zap.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewWazeroLoader returns a Loader backed by wazero.
// logger may be nil. Stdio of executed runtimes is passed through to the
// process's own streams.
func NewWazeroLoader(logger *zap.Logger) *WazeroLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WazeroLoader{
		log:    logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// Load implements Loader.
func (l *WazeroLoader) Load(ctx context.Context, path string) (Runtime, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, herr.Load("read runtime module "+path, err)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig())
	keep := false
	defer func() {
		if !keep {
			_ = rt.Close(ctx)
		}
	}()

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, herr.Load("instantiate WASI host", err)
	}

	// A compile error covers truncated, corrupt and wrong-architecture
	// binaries alike; none of them can succeed on retry.
	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, herr.Load("incompatible runtime module", err)
	}
	if _, ok := compiled.ExportedFunctions()[entryExport]; !ok {
		return nil, herr.Symbol(entryExport)
	}
	if _, ok := compiled.ExportedMemories()[memoryExport]; !ok {
		return nil, herr.Symbol(memoryExport)
	}

	l.log.Debug("runtime module loaded",
		zap.String("path", path),
		zap.Int("size", len(wasm)))

	keep = true
	return &wazeroRuntime{
		log:      l.log,
		runtime:  rt,
		compiled: compiled,
		stdin:    l.stdin,
		stdout:   l.stdout,
		stderr:   l.stderr,
	}, nil
}

type wazeroRuntime struct {
	log      *zap.Logger
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
}

// Run implements Runtime. Instantiation invokes the module's entry
// function; the work directory is mounted as the runtime's root.
func (r *wazeroRuntime) Run(ctx context.Context, args []string, workDir string) error {
	cfg := wazero.NewModuleConfig().
		WithArgs(append([]string{"runtime"}, args...)...).
		WithEnv(EnvWorkDir, workDir).
		WithStdin(r.stdin).
		WithStdout(r.stdout).
		WithStderr(r.stderr).
		WithFSConfig(wazero.NewFSConfig().WithDirMount(workDir, "/"))

	mod, err := r.runtime.InstantiateModule(ctx, r.compiled, cfg)
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == 0 {
				return nil
			}
			return herr.Runtime("runtime exited", err)
		}
		return herr.Runtime("runtime trapped", err)
	}
	return mod.Close(ctx)
}

// Close implements Runtime.
func (r *wazeroRuntime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}
