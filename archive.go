package husk

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"

	herr "github.com/arvhal/husk/errors"
	"github.com/arvhal/husk/internal"
)

// Archive represents the payload embedded in a stub executable.
type Archive struct {
	exeFile *os.File
	toc     internal.TOC
	offsets map[string]int64
}

// Open returns the payload of the running executable.
func Open() (*Archive, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, err
	}
	if p, err := filepath.EvalSymlinks(path); err == nil {
		// EvalSymlinks fails on Windows if the executable is located in the
		// remote SYSVOL volume from the domain controller.
		// It is therefore optional, any errors are ignored.
		path = p
	}
	return OpenExe(path)
}

// OpenExe returns the payload of an arbitrary executable.
//
// An executable without any payload yields an Archive with zero entries,
// not an error. A present but invalid payload yields KindArchiveCorrupt.
func OpenExe(exePath string) (*Archive, error) {
	arch := &Archive{}

	exe, err := os.Open(exePath)
	if err != nil {
		return nil, err
	}
	arch.exeFile = exe
	dontClose := false
	defer func() {
		if !dontClose {
			_ = exe.Close()
		}
	}()

	fi, err := exe.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := fi.Size()

	// locate payload
	markEnd := internal.SeekMark(exe)
	if markEnd < 0 { // no payload
		dontClose = true
		return arch, nil
	}

	// read and validate the fixed header
	rawHeader := make([]byte, internal.HeaderSize)
	if _, err := io.ReadFull(exe, rawHeader); err != nil {
		return nil, herr.Corrupt("truncated payload header")
	}
	header, err := internal.ParseHeader(rawHeader)
	if err != nil {
		return nil, herr.Corrupt("%s", err)
	}

	tocOffset := markEnd + internal.HeaderSize
	dataOffset := tocOffset + int64(header.TOCLen)

	// bounds check before reading anything variable-length:
	// payload and trailer must fit inside the hosting executable.
	// The first comparison keeps the offset arithmetic below from
	// overflowing on an adversarial DataLen.
	if header.DataLen > uint64(math.MaxInt64)-uint64(dataOffset)-uint64(internal.MarkSize) {
		return nil, herr.Corrupt("payload length exceeds file bounds")
	}
	trailerOffset := dataOffset + int64(header.DataLen)
	if trailerOffset+int64(internal.MarkSize) > fileSize {
		return nil, herr.Corrupt("payload length exceeds file bounds")
	}

	// read TOC
	rawTOC := make([]byte, header.TOCLen)
	if _, err := io.ReadFull(exe, rawTOC); err != nil {
		return nil, herr.Corrupt("truncated TOC")
	}
	var toc internal.TOC
	if err := json.Unmarshal(rawTOC, &toc); err != nil {
		return nil, herr.Corrupt("invalid TOC")
	}

	// calc blob offsets
	arch.toc = toc
	arch.offsets = make(map[string]int64, len(toc))
	offset := dataOffset
	var total int64
	for _, e := range toc {
		if e.Packed < 0 || e.Size < 0 {
			return nil, herr.Corrupt("negative entry size for %q", e.Name)
		}
		arch.offsets[e.Name] = offset
		offset += e.Packed
		total += e.Packed
	}
	if total != int64(header.DataLen) {
		return nil, herr.Corrupt("TOC sizes do not match payload length")
	}

	// the trailing mark double-checks the offsets
	if _, err := exe.Seek(trailerOffset, io.SeekStart); err != nil {
		return nil, err
	}
	trailer := make([]byte, internal.MarkSize)
	if _, err := io.ReadFull(exe, trailer); err != nil {
		return nil, herr.Corrupt("missing payload trailer")
	}
	if !internal.IsMark(trailer) {
		return nil, herr.Corrupt("invalid payload trailer")
	}

	dontClose = true
	return arch, nil
}

// Close the executable containing the payload.
// Close will return an error if it has already been called.
func (a *Archive) Close() error {
	return a.exeFile.Close()
}

// List returns the names of all entries in payload order.
func (a *Archive) List() []string {
	if len(a.toc) == 0 {
		return nil
	}
	l := make([]string, len(a.toc))
	for i, e := range a.toc {
		l[i] = e.Name
	}
	return l
}

// Count returns the number of entries.
func (a *Archive) Count() int {
	return len(a.toc)
}

// Entry returns the metadata of a specific entry.
func (a *Archive) Entry(name string) (internal.Entry, bool) {
	for _, e := range a.toc {
		if e.Name == name {
			return e, true
		}
	}
	return internal.Entry{}, false
}

// Reader groups basic methods available on payload entries.
type Reader interface {
	io.ReadSeeker
	io.ReaderAt
	Size() int64
}

// Reader returns a reader for the stored (possibly compressed) bytes
// of a given entry. Returns nil if no entry with that name exists.
func (a *Archive) Reader(name string) Reader {
	e, ok := a.Entry(name)
	if !ok {
		return nil
	}
	return io.NewSectionReader(a.exeFile, a.offsets[name], e.Packed)
}
