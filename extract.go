package husk

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"

	herr "github.com/arvhal/husk/errors"
	"github.com/arvhal/husk/internal"
)

// Extract unpacks every entry below dir, preserving the entry name as a
// relative path. Entries are processed in payload order.
//
// Entries whose name is not a purely local relative path are rejected with
// KindPathTraversal before anything is written for them. Extract stops at
// the first failing entry; the caller owns dir and its removal.
func (a *Archive) Extract(dir string) error {
	for _, e := range a.toc {
		if err := a.extractEntry(dir, e); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archive) extractEntry(dir string, e internal.Entry) error {
	// Names are slash-separated. Backslashes are rejected outright so an
	// archive cannot smuggle a traversal past the check on Windows.
	if strings.Contains(e.Name, `\`) || !filepath.IsLocal(filepath.FromSlash(e.Name)) {
		return herr.Traversal(e.Name)
	}
	dst := filepath.Join(dir, filepath.FromSlash(e.Name))

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}

	var src io.Reader = io.NewSectionReader(a.exeFile, a.offsets[e.Name], e.Packed)
	if e.Mode == internal.ModeDeflate {
		fr := flate.NewReader(src)
		defer fr.Close()
		src = fr
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	written, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if e.Mode == internal.ModeDeflate {
			return herr.Decompress(e.Name, err)
		}
		return err
	}
	if written != e.Size {
		return herr.Corrupt("entry %q: size mismatch (expected %d bytes, got %d)", e.Name, e.Size, written)
	}
	return nil
}
