package sortedindex

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/dd0wney/cluso-catalog/pkg/storeerr"
)

// Scanner streams an index file through its own file handle. A scanner
// opened before the index is replaced keeps reading the old file.
type Scanner struct {
	path   string
	file   *os.File
	layout Layout
	count  int
	used   bool
}

// OpenScanner opens path for a single forward pass.
func OpenScanner(path string) (*Scanner, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, storeerr.IO("open", path, err)
	}

	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(file, headerBuf); err != nil {
		_ = file.Close()
		return nil, corrupt(path, fmt.Errorf("read header: %w", err))
	}
	header, layout, err := parseHeader(headerBuf)
	if err != nil {
		_ = file.Close()
		return nil, corrupt(path, err)
	}

	return &Scanner{
		path:   path,
		file:   file,
		layout: layout,
		count:  int(header.RecordCount),
	}, nil
}

// Layout returns the record layout stored in the header
func (s *Scanner) Layout() Layout {
	return s.layout
}

// All yields every record in slot order. The sequence is forward-only and
// can be ranged over once.
func (s *Scanner) All() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		if s.used {
			yield(Record{}, fmt.Errorf("scanner for %s already consumed", s.path))
			return
		}
		s.used = true

		// Note: bufio.NewReader does not return an error - it always succeeds
		reader := bufio.NewReader(s.file)
		buf := make([]byte, s.layout.RecordSize())

		for i := 0; i < s.count; i++ {
			if _, err := io.ReadFull(reader, buf); err != nil {
				yield(Record{}, corrupt(s.path, fmt.Errorf("record %d: %w", i, err)))
				return
			}
			if !yield(s.layout.decodeRecord(buf), nil) {
				return
			}
		}
	}
}

// Close closes the file handle
func (s *Scanner) Close() error {
	return s.file.Close()
}
