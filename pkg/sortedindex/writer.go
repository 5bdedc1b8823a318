package sortedindex

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/dd0wney/cluso-catalog/pkg/storeerr"
)

// Writer streams records, already in slot order, into a new index file.
// The header is rewritten with the final count on Close.
type Writer struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	layout Layout
	buf    []byte
	last   []byte
	count  uint32
}

// Create creates an index file at path, truncating any existing file.
func Create(path string, layout Layout) (*Writer, error) {
	if err := layout.Validate(); err != nil {
		return nil, storeerr.New("create").Path(path).Kind(storeerr.ErrLayoutMismatch).Cause(err).Err()
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, storeerr.IO("create", path, err)
	}

	// Note: bufio.NewWriter does not return an error - it always succeeds
	writer := bufio.NewWriter(file)

	// Header placeholder, count patched on Close
	header := layout.header(0)
	if err := binary.Write(writer, binary.LittleEndian, &header); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, storeerr.IO("create", path, err)
	}

	return &Writer{
		path:   path,
		file:   file,
		writer: writer,
		layout: layout,
		buf:    make([]byte, layout.RecordSize()),
	}, nil
}

// Add appends rec. Slots must be strictly increasing.
func (w *Writer) Add(rec Record) error {
	if len(rec.Slot) != w.layout.SlotWidth() {
		return storeerr.New("add").Path(w.path).Kind(storeerr.ErrLayoutMismatch).
			Cause(fmt.Errorf("slot width %d, want %d", len(rec.Slot), w.layout.SlotWidth())).Err()
	}
	if w.last != nil && bytes.Compare(w.last, rec.Slot) >= 0 {
		return storeerr.New("add").Path(w.path).Key(w.layout.DecodeKey(rec.Slot)).Kind(storeerr.ErrUnordered).Err()
	}
	if w.count == math.MaxUint32 {
		return storeerr.New("add").Path(w.path).Kind(storeerr.ErrIO).
			Cause(fmt.Errorf("index full: %d records", w.count)).Err()
	}

	w.layout.encodeRecord(w.buf, rec)
	if _, err := w.writer.Write(w.buf); err != nil {
		return storeerr.IO("add", w.path, err)
	}

	w.last = append(w.last[:0], rec.Slot...)
	w.count++
	return nil
}

// Close finalizes the header and syncs the file to disk.
func (w *Writer) Close() error {
	if err := w.writer.Flush(); err != nil {
		_ = w.file.Close()
		return storeerr.IO("flush", w.path, err)
	}

	// Update header with the final count
	if _, err := w.file.Seek(0, 0); err != nil {
		_ = w.file.Close()
		return storeerr.IO("seek", w.path, err)
	}
	header := w.layout.header(w.count)
	if err := binary.Write(w.file, binary.LittleEndian, &header); err != nil {
		_ = w.file.Close()
		return storeerr.IO("write header", w.path, err)
	}

	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return storeerr.IO("sync", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		return storeerr.IO("close", w.path, err)
	}
	return nil
}

// Abort closes and removes a partially written file.
func (w *Writer) Abort() {
	_ = w.file.Close()
	_ = os.Remove(w.path)
}

// Build writes records to path in one call.
func Build(path string, layout Layout, records []Record) error {
	w, err := Create(path, layout)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := w.Add(rec); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Close()
}
