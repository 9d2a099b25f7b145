// Package packing builds the payload that package husk reads back:
// it appends a set of files to a compatible stub executable.
package packing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/arvhal/husk/internal"
)

const compatibleVersion = "arvhal/husk/v1"

// PrintlnFunc is used for logging the packing progress.
type PrintlnFunc func(format string, args ...interface{})

// Pack appends the given entries as a payload to the stub executable.
//
// out receives the stub executable including the full payload.
//
// stub reads from the stub executable that should be augmented. Pack
// verifies that the stub is compatible with this version of husk by
// searching for the magic marker-string (compiled into every executable
// that imports husk). Pack fails if the stub is incompatible or already
// carries a payload.
//
// entries maps entry names (slash-separated relative paths) to readers
// for the content. Each entry is compressed with DEFLATE and stored
// uncompressed instead when compression does not shrink it.
//
// logger (optional) is used to report the progress during packing.
func Pack(out io.Writer, stub io.ReadSeeker, entries map[string]io.Reader, logger PrintlnFunc) error {
	return PackLevel(out, stub, entries, flate.BestCompression, logger)
}

// PackLevel is Pack with an explicit DEFLATE compression level
// (flate.NoCompression, or flate.BestSpeed through flate.BestCompression).
func PackLevel(out io.Writer, stub io.ReadSeeker, entries map[string]io.Reader, level int, logger PrintlnFunc) error {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}

	if err := verifyStub(stub); err != nil {
		return fmt.Errorf("verify stub: %w", err)
	}

	toc, blobs, err := buildPayload(entries, level)
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}
	jsonTOC, err := json.Marshal(toc)
	if err != nil {
		return fmt.Errorf("marshal TOC: %w", err)
	}
	var dataLen uint64
	for _, e := range toc {
		dataLen += uint64(e.Packed)
	}

	// Stub
	logger("Writing stub executable")
	if _, err := io.Copy(out, stub); err != nil {
		return fmt.Errorf("copy stub: %w", err)
	}
	// Mark + header
	if err := internal.WriteMark(out); err != nil {
		return err
	}
	header := internal.Header{
		Version: internal.FormatVersion,
		TOCLen:  uint32(len(jsonTOC)),
		DataLen: dataLen,
	}
	if _, err := out.Write(internal.EncodeHeader(header)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	// TOC
	logger("Adding TOC (%d bytes)", len(jsonTOC))
	if _, err := out.Write(jsonTOC); err != nil {
		return fmt.Errorf("write TOC: %w", err)
	}
	// Entry blobs
	for i, e := range toc {
		logger("Adding %q (%d bytes, %s, %d packed)", e.Name, e.Size, e.Mode, e.Packed)
		if _, err := out.Write(blobs[i]); err != nil {
			return fmt.Errorf("write entry %q: %w", e.Name, err)
		}
	}
	// Trailing mark
	if err := internal.WriteMark(out); err != nil {
		return err
	}
	return nil
}

// PackFiles appends the given files as a payload to the stub executable.
//
// entries is a map of entry names to the respective file's filepath.
//
// See Pack for more information.
func PackFiles(out io.Writer, stub io.ReadSeeker, entries map[string]string, logger PrintlnFunc) error {
	readers := make(map[string]io.Reader, len(entries))

	for name, path := range entries {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open entry %q (%q): %w", name, path, err)
		}
		//goland:noinspection ALL
		defer file.Close()
		readers[name] = file
	}
	return Pack(out, stub, readers, logger)
}

// verifyStub ensures that the stub executable is compatible.
// The reader is seeked to the beginning afterwards.
func verifyStub(stub io.ReadSeeker) error {
	// Rewind seeker to start-of-executable (just in case)
	if _, err := stub.Seek(0, io.SeekStart); err != nil {
		return err
	}

	// Check if the stub executable is compatible.
	// Compatible executables are importing 'husk' in the correct version,
	// causing a marker-string to be present in the binary.
	// String-replace is used to ensure the marker is not present in the packer-executable.
	marker := "~~HuskStubMarker for XXX~~"
	marker = strings.ReplaceAll(marker, "XXX", compatibleVersion)

	offset := internal.SeekPattern(stub, []byte(marker))
	if offset == -1 { // not a go executable, or does not import correct library(-version)
		return errors.New("incompatible (magic string not found)")
	}

	offset = internal.SeekMark(stub)
	if offset != -1 {
		return errors.New("already contains a payload")
	}

	if _, err := stub.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return nil
}

// buildPayload compresses all entries and returns the TOC together with
// the blobs in TOC order. Entry names are validated and sorted so packing
// is deterministic.
func buildPayload(entries map[string]io.Reader, level int) (internal.TOC, [][]byte, error) {
	names := make([]string, 0, len(entries))
	for name := range entries {
		if strings.Contains(name, `\`) || !filepath.IsLocal(filepath.FromSlash(name)) {
			return nil, nil, fmt.Errorf("entry %q: name is not a local relative path", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	toc := make(internal.TOC, 0, len(names))
	blobs := make([][]byte, 0, len(names))
	for _, name := range names {
		raw, err := io.ReadAll(entries[name])
		if err != nil {
			return nil, nil, fmt.Errorf("read entry %q: %w", name, err)
		}

		blob, mode, err := compress(raw, level)
		if err != nil {
			return nil, nil, fmt.Errorf("compress entry %q: %w", name, err)
		}
		toc = append(toc, internal.Entry{
			Name:   name,
			Size:   int64(len(raw)),
			Packed: int64(len(blob)),
			Mode:   mode,
		})
		blobs = append(blobs, blob)
	}
	return toc, blobs, nil
}

// compress deflates raw, falling back to storing when that is smaller.
func compress(raw []byte, level int) ([]byte, internal.Mode, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(raw); err != nil {
		return nil, "", err
	}
	if err := fw.Close(); err != nil {
		return nil, "", err
	}
	if buf.Len() >= len(raw) {
		return raw, internal.ModeStore, nil
	}
	return buf.Bytes(), internal.ModeDeflate, nil
}
