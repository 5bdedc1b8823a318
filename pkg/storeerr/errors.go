package storeerr

import (
	"errors"
	"fmt"
)

// Error kinds shared by every layer of the catalog
var (
	ErrCorruptHandle  = errors.New("value handle outside value store extent")
	ErrKeyTooLong     = errors.New("key longer than index stride")
	ErrParse          = errors.New("stored text cannot be parsed")
	ErrIO             = errors.New("I/O failure")
	ErrCorruptIndex   = errors.New("sorted index is corrupt")
	ErrInvalidKey     = errors.New("key contains a NUL byte")
	ErrUnordered      = errors.New("records not in strictly increasing order")
	ErrLayoutMismatch = errors.New("options do not match on-disk layout")
	ErrClosed         = errors.New("catalog is closed")
)

// Error provides structured error information for catalog operations.
type Error struct {
	Op   string // Operation that failed (e.g., "insert", "read", "finish")
	Path string // File involved, if any
	Key  string // Key involved, if any
	Kind error  // One of the sentinel errors above
	Err  error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" (key %q)", e.Key)
	}
	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s: %v", msg, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target matches the error kind or the cause.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if e.Kind == target {
		return true
	}
	return errors.Is(e.Err, target)
}

// Builder provides a fluent interface for building Errors.
type Builder struct {
	err Error
}

// New creates a new error builder with the given operation.
func New(op string) *Builder {
	return &Builder{err: Error{Op: op}}
}

// Path sets the file the operation touched.
func (b *Builder) Path(p string) *Builder {
	b.err.Path = p
	return b
}

// Key sets the key the operation touched.
func (b *Builder) Key(k string) *Builder {
	b.err.Key = k
	return b
}

// Kind sets the error kind.
func (b *Builder) Kind(kind error) *Builder {
	b.err.Kind = kind
	return b
}

// Cause sets the underlying error cause.
func (b *Builder) Cause(err error) *Builder {
	b.err.Err = err
	return b
}

// Err returns the error as an error interface.
func (b *Builder) Err() error {
	return &b.err
}

// IO wraps an operating system failure.
func IO(op, path string, cause error) error {
	return New(op).Path(path).Kind(ErrIO).Cause(cause).Err()
}

// CorruptHandle reports a handle that does not fit the value store.
func CorruptHandle(path string, offset uint64, length uint32, cause error) error {
	b := New("read").Path(path).Kind(ErrCorruptHandle)
	if cause != nil {
		return b.Cause(fmt.Errorf("offset %d length %d: %w", offset, length, cause)).Err()
	}
	return b.Cause(fmt.Errorf("offset %d length %d", offset, length)).Err()
}

// KeyTooLong reports a key that does not fit the configured stride.
func KeyTooLong(key string, stride int) error {
	return New("encode").Key(key).Kind(ErrKeyTooLong).
		Cause(fmt.Errorf("length %d, stride %d", len(key), stride)).Err()
}

// Parse reports stored text that the codec could not convert.
func Parse(key string, cause error) error {
	return New("decode").Key(key).Kind(ErrParse).Cause(cause).Err()
}

// IsCorrupt returns true if the error signals on-disk structural damage.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptHandle) || errors.Is(err, ErrCorruptIndex)
}
