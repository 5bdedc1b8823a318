// Package valuestore implements the append-only value file of a catalog.
//
// Values are written back to back with no framing; the only record of where
// a value lives is the Handle returned by Append. Bytes are never rewritten in
// place. Space taken by overwritten values is reclaimed only by copying the
// live values into a fresh store (see AppendRaw/ReadRaw).
package valuestore

import (
	"bufio"
	"errors"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-catalog/pkg/storeerr"
)

// Handle locates one value inside a Store.
type Handle struct {
	Offset uint64
	Length uint32
}

// End returns the offset one past the last byte of the value.
func (h Handle) End() uint64 {
	return h.Offset + uint64(h.Length)
}

// Options configures a Store
type Options struct {
	Compress   bool // snappy-encode values before writing
	BufferSize int  // bufio.Writer buffer size (0 = default)
	ReadOnly   bool // open an existing file for reads only
}

// Stats is a point-in-time snapshot of store counters
type Stats struct {
	Appends       int64
	Reads         int64
	BytesAppended int64 // caller bytes, before compression
	BytesStored   int64 // bytes written to the file
	Size          uint64
}

// Store is an append-only value file.
type Store struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *bufio.Writer
	size     uint64 // logical end, including buffered bytes
	flushed  uint64 // bytes handed to the OS
	compress bool
	readOnly bool

	appends       atomic.Int64
	reads         atomic.Int64
	bytesAppended atomic.Int64
	bytesStored   atomic.Int64
}

// Open opens or creates the value file at path.
func Open(path string, opts Options) (*Store, error) {
	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, storeerr.IO("open", path, err)
	}

	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		_ = file.Close()
		return nil, storeerr.IO("seek", path, err)
	}

	s := &Store{
		path:     path,
		file:     file,
		size:     uint64(end),
		flushed:  uint64(end),
		compress: opts.Compress,
		readOnly: opts.ReadOnly,
	}
	if opts.BufferSize > 0 {
		s.writer = bufio.NewWriterSize(file, opts.BufferSize)
	} else {
		s.writer = bufio.NewWriter(file)
	}
	return s, nil
}

// Path returns the file path of the store
func (s *Store) Path() string {
	return s.path
}

// Compressed reports whether values are snappy-encoded
func (s *Store) Compressed() bool {
	return s.compress
}

// Size returns the logical end of the store
func (s *Store) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Append writes value at the end of the store and returns its handle.
func (s *Store) Append(value []byte) (Handle, error) {
	stored := value
	if s.compress {
		stored = snappy.Encode(nil, value)
	}

	h, err := s.AppendRaw(stored)
	if err != nil {
		return Handle{}, err
	}
	s.bytesAppended.Add(int64(len(value)))
	return h, nil
}

// AppendRaw writes already-encoded bytes verbatim. Compaction uses it to
// move values between stores without recompressing them.
func (s *Store) AppendRaw(stored []byte) (Handle, error) {
	if len(stored) > math.MaxUint32 {
		return Handle{}, storeerr.New("append").Path(s.path).Kind(storeerr.ErrIO).
			Cause(errors.New("value larger than 4GiB")).Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return Handle{}, storeerr.New("append").Path(s.path).Kind(storeerr.ErrClosed).Err()
	}
	if s.readOnly {
		return Handle{}, storeerr.New("append").Path(s.path).Kind(storeerr.ErrIO).
			Cause(errors.New("store opened read-only")).Err()
	}

	h := Handle{Offset: s.size, Length: uint32(len(stored))}
	if _, err := s.writer.Write(stored); err != nil {
		return Handle{}, storeerr.IO("append", s.path, err)
	}
	s.size += uint64(len(stored))
	if s.writer.Buffered() == 0 {
		s.flushed = s.size
	}

	s.appends.Add(1)
	s.bytesStored.Add(int64(len(stored)))
	return h, nil
}

// Read returns the value referenced by h.
func (s *Store) Read(h Handle) ([]byte, error) {
	stored, err := s.ReadRaw(h)
	if err != nil {
		return nil, err
	}
	if !s.compress {
		return stored, nil
	}

	value, err := snappy.Decode(nil, stored)
	if err != nil {
		return nil, storeerr.CorruptHandle(s.path, h.Offset, h.Length, err)
	}
	return value, nil
}

// ReadRaw returns the stored bytes referenced by h without decoding them.
// A handle reaching past the end of the file is ErrCorruptHandle; truncated
// bytes are never returned.
func (s *Store) ReadRaw(h Handle) ([]byte, error) {
	s.mu.Lock()
	if s.file == nil {
		s.mu.Unlock()
		return nil, storeerr.New("read").Path(s.path).Kind(storeerr.ErrClosed).Err()
	}
	if h.End() < h.Offset || h.End() > s.size {
		s.mu.Unlock()
		return nil, storeerr.CorruptHandle(s.path, h.Offset, h.Length, nil)
	}
	if h.End() > s.flushed {
		if err := s.writer.Flush(); err != nil {
			s.mu.Unlock()
			return nil, storeerr.IO("flush", s.path, err)
		}
		s.flushed = s.size
	}
	file := s.file
	s.mu.Unlock()

	s.reads.Add(1)

	buf := make([]byte, h.Length)
	n, err := file.ReadAt(buf, int64(h.Offset))
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, storeerr.CorruptHandle(s.path, h.Offset, h.Length, io.ErrUnexpectedEOF)
	}
	return nil, storeerr.IO("read", s.path, err)
}

// Flush hands buffered appends to the operating system.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if s.file == nil {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		return storeerr.IO("flush", s.path, err)
	}
	s.flushed = s.size
	return nil
}

// Sync flushes the buffer and syncs the file to disk.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(); err != nil {
		return err
	}
	if s.file == nil || s.readOnly {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return storeerr.IO("sync", s.path, err)
	}
	return nil
}

// Close flushes, syncs, and closes the file.
func (s *Store) Close() error {
	if err := s.Sync(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return storeerr.IO("close", s.path, err)
	}
	return nil
}

// Stats returns current counters
func (s *Store) Stats() Stats {
	return Stats{
		Appends:       s.appends.Load(),
		Reads:         s.reads.Load(),
		BytesAppended: s.bytesAppended.Load(),
		BytesStored:   s.bytesStored.Load(),
		Size:          s.Size(),
	}
}
