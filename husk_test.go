package husk

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herr "github.com/arvhal/husk/errors"
	"github.com/arvhal/husk/handoff"
	"github.com/arvhal/husk/internal"
	"github.com/arvhal/husk/packing"
	"github.com/arvhal/husk/workdir"
)

type fakeRuntime struct {
	onRun  func(args []string, workDir string) error
	closed bool
}

func (r *fakeRuntime) Run(_ context.Context, args []string, workDir string) error {
	return r.onRun(args, workDir)
}

func (r *fakeRuntime) Close(context.Context) error {
	r.closed = true
	return nil
}

type fakeLoader struct {
	loadErr error
	rt      *fakeRuntime
	gotPath string
}

func (l *fakeLoader) Load(_ context.Context, path string) (handoff.Runtime, error) {
	l.gotPath = path
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	return l.rt, nil
}

// packExe builds a packed stub executable on disk and returns its path.
func packExe(t *testing.T, entries map[string]io.Reader) string {
	t.Helper()

	random := make([]byte, 100)
	_, err := rand.Read(random)
	require.NoError(t, err)
	stub := append(random, []byte(marker)...)

	var out bytes.Buffer
	require.NoError(t, packing.Pack(&out, bytes.NewReader(stub), entries, nil))

	path := filepath.Join(t.TempDir(), "packed")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o700))
	return path
}

// newTestLoader returns a Loader whose work directories live below a
// fresh base, plus that base for post-run assertions.
func newTestLoader(t *testing.T, fake *fakeLoader) (*Loader, string) {
	t.Helper()
	base := t.TempDir()
	t.Setenv(workdir.EnvBase, base)

	return &Loader{
		Dirs:         workdir.NewManager(nil),
		Runtime:      fake,
		RuntimeEntry: DefaultRuntimeEntry,
	}, base
}

func TestLoader_success(t *testing.T) {
	exe := packExe(t, map[string]io.Reader{
		DefaultRuntimeEntry: strings.NewReader("runtime bytes"),
		"app/main.py":       strings.NewReader("print('hi')"),
	})

	var seenDir string
	fake := &fakeLoader{rt: &fakeRuntime{
		onRun: func(args []string, dir string) error {
			seenDir = dir

			// unpacking must be complete before the runtime runs
			data, err := os.ReadFile(filepath.Join(dir, "app", "main.py"))
			assert.NoError(t, err)
			assert.Equal(t, "print('hi')", string(data))

			data, err = os.ReadFile(filepath.Join(dir, DefaultRuntimeEntry))
			assert.NoError(t, err)
			assert.Equal(t, "runtime bytes", string(data))

			assert.Equal(t, []string{"-v", "in.txt"}, args)
			return nil
		},
	}}
	loader, base := newTestLoader(t, fake)

	err := loader.BootExe(context.Background(), exe, []string{"-v", "in.txt"})
	require.NoError(t, err)

	assert.Equal(t, StateCleanExit, loader.State())
	assert.Equal(t, ExitSuccess, ExitCode(err))
	assert.True(t, fake.rt.closed)
	assert.Equal(t, filepath.Join(seenDir, DefaultRuntimeEntry), fake.gotPath)
	assert.Equal(t, base, filepath.Dir(seenDir))

	// work directory must not exist after a clean shutdown
	_, statErr := os.Stat(seenDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoader_noPayload(t *testing.T) {
	random := make([]byte, 100)
	rand.Read(random)
	exe := filepath.Join(t.TempDir(), "bare")
	require.NoError(t, os.WriteFile(exe, random, 0o700))

	loader, base := newTestLoader(t, &fakeLoader{})
	err := loader.BootExe(context.Background(), exe, nil)

	assert.EqualError(t, err, "archive corrupt: executable contains no payload")
	assert.Equal(t, StateFailedExit, loader.State())
	assert.Equal(t, ExitUnpack, ExitCode(err))
	assertEmptyDir(t, base)
}

func TestLoader_corruptPayload(t *testing.T) {
	// header length field larger than the actual file
	toc := internal.TOC{{
		Name:   DefaultRuntimeEntry,
		Size:   1 << 20,
		Packed: 1 << 20,
		Mode:   internal.ModeStore,
	}}
	exe := prepareExe(t, toc, [][]byte{[]byte("tiny")})

	loader, base := newTestLoader(t, &fakeLoader{})
	err := loader.BootExe(context.Background(), exe, nil)

	assert.Equal(t, herr.KindArchiveCorrupt, herr.KindOf(err))
	assert.Equal(t, ExitUnpack, ExitCode(err))

	// no directory may be created for a rejected payload
	assertEmptyDir(t, base)
}

func TestLoader_loadFailure(t *testing.T) {
	exe := packExe(t, map[string]io.Reader{
		DefaultRuntimeEntry: strings.NewReader("not really wasm"),
	})

	fake := &fakeLoader{loadErr: herr.Load("incompatible runtime module", nil)}
	loader, base := newTestLoader(t, fake)

	err := loader.BootExe(context.Background(), exe, nil)
	assert.Equal(t, herr.KindLoadFailure, herr.KindOf(err))
	assert.Equal(t, ExitLoad, ExitCode(err))
	assert.Equal(t, StateFailedExit, loader.State())

	// failed past UNPACKED: the work directory is gone again
	assertEmptyDir(t, base)
}

func TestLoader_runtimeFailure(t *testing.T) {
	exe := packExe(t, map[string]io.Reader{
		DefaultRuntimeEntry: strings.NewReader("runtime bytes"),
	})

	fake := &fakeLoader{rt: &fakeRuntime{
		onRun: func([]string, string) error {
			return herr.Runtime("runtime exited", nil)
		},
	}}
	loader, base := newTestLoader(t, fake)

	err := loader.BootExe(context.Background(), exe, nil)
	assert.Equal(t, herr.KindRuntimeFailure, herr.KindOf(err))
	assert.Equal(t, ExitRuntime, ExitCode(err))
	assert.Equal(t, StateFailedExit, loader.State())
	assert.True(t, fake.rt.closed)
	assertEmptyDir(t, base)
}

func TestLoader_missingRuntimeEntryOnDisk(t *testing.T) {
	// payload exists but carries no runtime module; the real wazero
	// loader reports the absent file as a load failure
	exe := packExe(t, map[string]io.Reader{
		"app/main.py": strings.NewReader("print('hi')"),
	})

	loader, base := newTestLoader(t, nil)
	loader.Runtime = handoff.NewWazeroLoader(nil)

	err := loader.BootExe(context.Background(), exe, nil)
	assert.Equal(t, herr.KindLoadFailure, herr.KindOf(err))
	assert.Equal(t, ExitLoad, ExitCode(err))
	assertEmptyDir(t, base)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, ExitSuccess},
		{herr.Corrupt("x"), ExitUnpack},
		{herr.Decompress("e", nil), ExitUnpack},
		{herr.Traversal("e"), ExitUnpack},
		{herr.DirCreate("x", nil), ExitUnpack},
		{herr.Load("x", nil), ExitLoad},
		{herr.Symbol("_start"), ExitLoad},
		{herr.Runtime("x", nil), ExitRuntime},
		{io.ErrUnexpectedEOF, ExitUnpack}, // unclassified
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ExitCode(tt.err))
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "start", StateStart.String())
	assert.Equal(t, "clean-exit", StateCleanExit.String())
	assert.Equal(t, "failed-exit", StateFailedExit.String())
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
