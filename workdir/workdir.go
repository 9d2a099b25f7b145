// Package workdir manages the ephemeral per-run directory that receives
// the unpacked payload.
package workdir

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xyproto/env/v2"
	"go.uber.org/zap"

	herr "github.com/arvhal/husk/errors"
)

// EnvBase overrides the base path below which work directories are created.
const EnvBase = "HUSK_TMPDIR"

const dirPrefix = "husk-"

// maxAttempts bounds the retries on directory-name collisions.
// Collisions are the only transient failure the loader retries at all.
const maxAttempts = 10

// Manager creates and removes uniquely named work directories.
type Manager struct {
	base string
	log  *zap.Logger
	rand func([]byte) error
}

// NewManager returns a Manager rooted at HUSK_TMPDIR, falling back to the
// system temp directory. logger may be nil.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	// env caches the environment process-wide on first use; reload so a
	// Manager always sees the current HUSK_TMPDIR.
	env.Load()
	return &Manager{
		base: env.Str(EnvBase, os.TempDir()),
		log:  logger,
		rand: func(b []byte) error {
			_, err := rand.Read(b)
			return err
		},
	}
}

// Base returns the base path below which directories are created.
func (m *Manager) Base() string {
	return m.base
}

// Acquire creates a new uniquely named directory and returns its path.
// The directory is created atomically and owned exclusively by this
// process; a name collision is retried with fresh randomness before
// surfacing KindDirectoryCreateFailed.
func (m *Manager) Acquire() (string, error) {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		var buf [8]byte
		if err := m.rand(buf[:]); err != nil {
			return "", herr.DirCreate("read randomness", err)
		}
		path := filepath.Join(m.base, dirPrefix+hex.EncodeToString(buf[:]))

		err := os.Mkdir(path, 0o700)
		if err == nil {
			m.log.Debug("acquired work directory", zap.String("path", path))
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", herr.DirCreate("create "+path, err)
		}
		lastErr = err
	}
	return "", herr.DirCreate("name collisions exhausted retries", lastErr)
}

// Release removes the directory tree at path. It is idempotent and
// tolerates an already-missing path. An empty path is a no-op.
func (m *Manager) Release(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		m.log.Warn("releasing work directory failed", zap.String("path", path), zap.Error(err))
		return err
	}
	m.log.Debug("released work directory", zap.String("path", path))
	return nil
}
