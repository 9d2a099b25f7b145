package internal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// markPart is appended repeatedly after the stub executable and marks the
// start of the payload. The loader scans for it to locate the payload
// without knowing anything about the stub's executable format.
var markPart = []byte{'@', 0x1f, 8, 4, 0x1f, '@'}

// markPartCount defines how often markPart is repeated.
// This ensures that the pattern does not appear by accident within the stub.
const markPartCount = 4

// mark is "markPart" repeated "markPartCount" times.
var mark []byte

// MarkSize will contain the size of the complete mark pattern.
var MarkSize int

func init() {
	partLen := len(markPart)
	MarkSize = partLen * markPartCount

	mark = make([]byte, MarkSize)
	for i := 0; i < markPartCount; i++ {
		copy(mark[i*partLen:], markPart)
	}
}

// IsMark checks if the given byte slice equals the mark pattern.
func IsMark(data []byte) bool {
	return bytes.Equal(mark, data)
}

// WriteMark writes the mark pattern.
func WriteMark(w io.Writer) error {
	if _, err := w.Write(mark); err != nil {
		return err
	}
	return nil
}

// SeekMark reads from the reader until the end of the mark pattern.
// Returns the number of bytes (offset) that were read (including the pattern itself).
// Returns -1 if the mark was not found.
func SeekMark(in io.ReadSeeker) int64 {
	return SeekPattern(in, mark)
}

// SeekPattern reads from the reader until the search pattern was found.
// The next byte coming from the reader will be the first byte after the pattern ended.
// Returns the number of bytes (offset) that were read (including the pattern itself).
// Returns -1 if the pattern was not found.
func SeekPattern(in io.ReadSeeker, pattern []byte) int64 {
	rPos, _ := in.Seek(0, io.SeekCurrent)

	var offset int64
	r := bufio.NewReader(in)

	nIdx := 0 // #bytes we already found
	for nIdx < len(pattern) {
		b, err := r.ReadByte()
		if err != nil { // not found
			return -1
		}
		if pattern[nIdx] == b {
			nIdx++
		} else {
			nIdx = 0
		}
		offset++
	}

	// seek the reader after the pattern (needed, because reading was done via the buffer)
	_, _ = in.Seek(rPos+offset, io.SeekStart)
	return offset
}

// headerMagic identifies the payload header that follows the mark pattern.
var headerMagic = []byte{'H', 'S', 'K', '1'}

// FormatVersion is the payload format version written and understood
// by this package.
const FormatVersion = 1

// HeaderSize is the encoded size of a Header in bytes:
// magic (4) + version (1) + reserved (1) + tocLen (4) + dataLen (8).
const HeaderSize = 18

var (
	ErrBadMagic   = errors.New("invalid payload magic")
	ErrBadVersion = errors.New("unsupported payload version")
)

// Header is the fixed-layout metadata in front of the TOC.
// All multi-byte fields are little-endian.
type Header struct {
	Version uint8
	TOCLen  uint32 // size of the JSON TOC in bytes
	DataLen uint64 // total size of all entry blobs in bytes
}

// EncodeHeader returns the binary encoding of h.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = append(buf, headerMagic...)
	buf = append(buf, h.Version, 0)
	buf = binary.LittleEndian.AppendUint32(buf, h.TOCLen)
	buf = binary.LittleEndian.AppendUint64(buf, h.DataLen)
	return buf
}

// ParseHeader decodes a Header from the first HeaderSize bytes of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header truncated (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:4], headerMagic) {
		return Header{}, ErrBadMagic
	}
	h := Header{
		Version: data[4],
		TOCLen:  binary.LittleEndian.Uint32(data[6:10]),
		DataLen: binary.LittleEndian.Uint64(data[10:18]),
	}
	if h.Version != FormatVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	return h, nil
}
