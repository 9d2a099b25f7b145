// Package husk implements a self-extracting bootstrap loader.
//
// A stub executable built with this package carries a payload appended to
// its own binary: a set of files plus a WebAssembly runtime module. At
// process start the stub unpacks the payload into an ephemeral work
// directory, hands control to the runtime, and removes the directory on
// every exit path. The producing side lives in package packing.
package husk

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	herr "github.com/arvhal/husk/errors"
	"github.com/arvhal/husk/handoff"
	"github.com/arvhal/husk/workdir"
)

// Process exit codes of a stub executable. These are stable: scripts may
// branch on them.
const (
	ExitSuccess = 0 // runtime ran and reported success
	ExitUnpack  = 1 // locating or unpacking the payload failed
	ExitLoad    = 2 // the runtime module could not be loaded
	ExitRuntime = 3 // the runtime reported a failure
)

// ExitCode maps err to the stub's documented exit codes.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch herr.KindOf(err) {
	case herr.KindLoadFailure, herr.KindSymbolNotFound:
		return ExitLoad
	case herr.KindRuntimeFailure:
		return ExitRuntime
	default:
		// Everything up to and including unpacking, plus unclassified
		// environmental failures.
		return ExitUnpack
	}
}

// State of a Loader. States advance strictly forward; both terminal
// states are entered only after the work directory has been released.
type State int

const (
	StateStart State = iota
	StateUnpacked
	StateRuntimeLoaded
	StateExecuting
	StateCleanExit
	StateFailedExit
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateUnpacked:
		return "unpacked"
	case StateRuntimeLoaded:
		return "runtime-loaded"
	case StateExecuting:
		return "executing"
	case StateCleanExit:
		return "clean-exit"
	case StateFailedExit:
		return "failed-exit"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultRuntimeEntry is the payload entry holding the runtime module.
const DefaultRuntimeEntry = "runtime.wasm"

// Loader carries all process-wide state of a bootstrap run. It exists so
// the stages share an explicit context instead of ambient globals; every
// collaborator can be replaced for testing.
type Loader struct {
	Log  *zap.Logger
	Dirs *workdir.Manager

	// Runtime loads the unpacked runtime module.
	Runtime handoff.Loader

	// RuntimeEntry is the payload entry name of the runtime module.
	RuntimeEntry string

	state State
}

// NewLoader returns a Loader with production collaborators.
// logger may be nil.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		Log:          logger,
		Dirs:         workdir.NewManager(logger),
		Runtime:      handoff.NewWazeroLoader(logger),
		RuntimeEntry: DefaultRuntimeEntry,
	}
}

// State returns the loader's current lifecycle state.
func (l *Loader) State() State {
	return l.state
}

func (l *Loader) logger() *zap.Logger {
	if l.Log == nil {
		return zap.NewNop()
	}
	return l.Log
}

// Boot runs the full bootstrap sequence against the running executable:
// unpack, load, execute, clean up. See BootExe.
func (l *Loader) Boot(ctx context.Context, args []string) error {
	arch, err := Open()
	if err != nil {
		l.state = StateFailedExit
		return err
	}
	return l.boot(ctx, arch, args)
}

// BootExe is Boot against an arbitrary stub executable.
//
// The returned error is classified (see package errors) and maps to an
// exit code via ExitCode. On every path, the work directory does not
// exist anymore when BootExe returns.
func (l *Loader) BootExe(ctx context.Context, exePath string, args []string) error {
	arch, err := OpenExe(exePath)
	if err != nil {
		l.state = StateFailedExit
		return err
	}
	return l.boot(ctx, arch, args)
}

func (l *Loader) boot(ctx context.Context, arch *Archive, args []string) (err error) {
	defer func() {
		if err != nil {
			l.state = StateFailedExit
		} else {
			l.state = StateCleanExit
		}
	}()
	defer arch.Close()

	if arch.Count() == 0 {
		return herr.Corrupt("executable contains no payload")
	}

	dir, err := l.Dirs.Acquire()
	if err != nil {
		return err
	}
	// Best-effort cleanup on catchable termination signals. Release is
	// idempotent, so the deferred call below and the signal path may both
	// run.
	disarm := workdir.NotifyCleanup(func() {
		_ = l.Dirs.Release(dir)
	})
	defer disarm()
	defer func() {
		if relErr := l.Dirs.Release(dir); relErr != nil && err == nil {
			err = relErr
		}
	}()

	if err := arch.Extract(dir); err != nil {
		return err
	}
	l.state = StateUnpacked
	l.logger().Debug("payload unpacked",
		zap.String("dir", dir),
		zap.Int("entries", arch.Count()))

	rt, err := l.Runtime.Load(ctx, filepath.Join(dir, l.RuntimeEntry))
	if err != nil {
		return err
	}
	defer rt.Close(ctx)
	l.state = StateRuntimeLoaded

	// Handoff: from here on the runtime owns signal semantics.
	disarm()
	l.state = StateExecuting
	l.logger().Debug("handing off to runtime", zap.Strings("args", args))

	return rt.Run(ctx, args, dir)
}
