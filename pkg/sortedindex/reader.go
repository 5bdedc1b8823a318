package sortedindex

import (
	"bytes"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/mmap"

	"github.com/dd0wney/cluso-catalog/pkg/storeerr"
)

// Reader is a memory-mapped index used for lookups.
type Reader struct {
	path   string
	mmap   *mmap.ReaderAt
	header Header
	layout Layout
	count  int
	bufs   sync.Pool // *[]byte of RecordSize, reused across probes

	lookups atomic.Int64
	probes  atomic.Int64
}

// Open maps the index file at path and validates its header and length.
func Open(path string) (*Reader, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, storeerr.IO("open", path, err)
	}

	headerBuf := make([]byte, HeaderSize)
	if reader.Len() < HeaderSize {
		_ = reader.Close()
		return nil, corrupt(path, fmt.Errorf("file length %d shorter than header", reader.Len()))
	}
	if _, err := reader.ReadAt(headerBuf, 0); err != nil {
		_ = reader.Close()
		return nil, storeerr.IO("read header", path, err)
	}

	header, layout, err := parseHeader(headerBuf)
	if err != nil {
		_ = reader.Close()
		return nil, corrupt(path, err)
	}

	want := int64(HeaderSize) + int64(header.RecordCount)*int64(layout.RecordSize())
	if int64(reader.Len()) != want {
		_ = reader.Close()
		return nil, corrupt(path, fmt.Errorf("file length %d, header implies %d", reader.Len(), want))
	}

	r := &Reader{
		path:   path,
		mmap:   reader,
		header: header,
		layout: layout,
		count:  int(header.RecordCount),
	}
	r.bufs.New = func() any {
		b := make([]byte, layout.RecordSize())
		return &b
	}
	return r, nil
}

func corrupt(path string, cause error) error {
	return storeerr.New("open").Path(path).Kind(storeerr.ErrCorruptIndex).Cause(cause).Err()
}

// Path returns the mapped file
func (r *Reader) Path() string {
	return r.path
}

// Len returns the number of records
func (r *Reader) Len() int {
	return r.count
}

// Layout returns the record layout stored in the header
func (r *Reader) Layout() Layout {
	return r.layout
}

// readRecord reads record i into buf.
func (r *Reader) readRecord(i int, buf []byte) error {
	off := int64(HeaderSize) + int64(i)*int64(len(buf))
	if _, err := r.mmap.ReadAt(buf, off); err != nil {
		return storeerr.IO("read record", r.path, err)
	}
	return nil
}

// At returns record i.
func (r *Reader) At(i int) (Record, error) {
	if i < 0 || i >= r.count {
		return Record{}, fmt.Errorf("record %d out of range [0, %d)", i, r.count)
	}
	buf := make([]byte, r.layout.RecordSize())
	if err := r.readRecord(i, buf); err != nil {
		return Record{}, err
	}
	return r.layout.decodeRecord(buf), nil
}

// Lookup binary-searches for slot. Each probe is one positioned read of a
// single record, so a lookup costs O(log n) reads.
func (r *Reader) Lookup(slot []byte) (Record, bool, error) {
	rec, found, _, err := r.Search(slot)
	return rec, found, err
}

// Search is Lookup that also reports how many records were read.
func (r *Reader) Search(slot []byte) (Record, bool, int, error) {
	w := r.layout.SlotWidth()
	if len(slot) != w {
		return Record{}, false, 0, storeerr.New("lookup").Path(r.path).Kind(storeerr.ErrLayoutMismatch).
			Cause(fmt.Errorf("slot width %d, want %d", len(slot), w)).Err()
	}

	r.lookups.Add(1)
	bp := r.bufs.Get().(*[]byte)
	defer r.bufs.Put(bp)
	buf := *bp

	probes := 0
	lo, hi := 0, r.count
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		probes++
		r.probes.Add(1)
		if err := r.readRecord(mid, buf); err != nil {
			return Record{}, false, probes, err
		}

		switch cmp := bytes.Compare(buf[:w], slot); {
		case cmp == 0:
			return r.layout.decodeRecord(buf), true, probes, nil
		case cmp < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}

	return Record{}, false, probes, nil
}

// Get encodes key with the index layout and looks it up.
func (r *Reader) Get(key string) (Record, bool, error) {
	slot, err := r.layout.EncodeKey(key)
	if err != nil {
		return Record{}, false, err
	}
	return r.Lookup(slot)
}

// All yields every record in slot order.
func (r *Reader) All() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		buf := make([]byte, r.layout.RecordSize())
		for i := 0; i < r.count; i++ {
			if err := r.readRecord(i, buf); err != nil {
				yield(Record{}, err)
				return
			}
			if !yield(r.layout.decodeRecord(buf), nil) {
				return
			}
		}
	}
}

// Probes returns the number of records read by lookups so far
func (r *Reader) Probes() int64 {
	return r.probes.Load()
}

// Lookups returns the number of lookups served
func (r *Reader) Lookups() int64 {
	return r.lookups.Load()
}

// Close unmaps the file
func (r *Reader) Close() error {
	if r.mmap == nil {
		return nil
	}
	err := r.mmap.Close()
	r.mmap = nil
	return err
}
