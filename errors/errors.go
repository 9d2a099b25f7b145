// Package errors provides the error taxonomy shared by all loader stages.
//
// Every failure the loader can report carries a Kind. Kinds are stable:
// they determine the process exit code and are safe to match on with
// KindOf. All errors are fatal to the loader; none are retried.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind categorizes a loader failure.
type Kind string

const (
	KindArchiveCorrupt        Kind = "archive corrupt"
	KindDecompress            Kind = "decompress error"
	KindPathTraversal         Kind = "path traversal rejected"
	KindDirectoryCreateFailed Kind = "directory create failed"
	KindLoadFailure           Kind = "load failure"
	KindSymbolNotFound        Kind = "symbol not found"
	KindRuntimeFailure        Kind = "runtime failure"
)

// Error is the structured error type used throughout the loader.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the Kind of err, or "" if err carries no Kind.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Corrupt reports an invalid or out-of-bounds payload.
func Corrupt(format string, args ...interface{}) *Error {
	return &Error{Kind: KindArchiveCorrupt, Detail: fmt.Sprintf(format, args...)}
}

// Decompress reports a failure of the compression stream while unpacking.
func Decompress(name string, cause error) *Error {
	return &Error{Kind: KindDecompress, Detail: fmt.Sprintf("entry %q", name), Cause: cause}
}

// Traversal reports an entry name that would escape the work directory.
func Traversal(name string) *Error {
	return &Error{Kind: KindPathTraversal, Detail: fmt.Sprintf("entry %q", name)}
}

// DirCreate reports that no work directory could be created.
func DirCreate(detail string, cause error) *Error {
	return &Error{Kind: KindDirectoryCreateFailed, Detail: detail, Cause: cause}
}

// Load reports that the runtime module could not be loaded.
func Load(detail string, cause error) *Error {
	return &Error{Kind: KindLoadFailure, Detail: detail, Cause: cause}
}

// Symbol reports a missing required export of the runtime module.
func Symbol(name string) *Error {
	return &Error{Kind: KindSymbolNotFound, Detail: fmt.Sprintf("required export %q", name)}
}

// Runtime reports a failure surfaced by the executing runtime.
func Runtime(detail string, cause error) *Error {
	return &Error{Kind: KindRuntimeFailure, Detail: detail, Cause: cause}
}
