package internal

// Mode describes how an entry's bytes are stored in the payload.
type Mode string

const (
	ModeStore   Mode = "store"   // raw bytes
	ModeDeflate Mode = "deflate" // DEFLATE stream
)

// TOC (=table of content) lists all entries of a payload.
// The order of entries in the TOC reflects the order of entry data afterwards.
// The TOC is embedded as json between the header and the first entry blob.
type TOC []Entry

// Entry represents a single packed file.
type Entry struct {
	Name   string // Relative path below the work directory, slash-separated
	Size   int64  // Uncompressed size in bytes
	Packed int64  // Stored size in bytes (equals Size for ModeStore)
	Mode   Mode
}
