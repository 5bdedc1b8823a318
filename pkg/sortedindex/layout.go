package sortedindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/dd0wney/cluso-catalog/pkg/storeerr"
	"github.com/dd0wney/cluso-catalog/pkg/valuestore"
)

// Index file format (little endian):
//   [Header: magic(4) | version(2) | flags(2) | record_count(4) | stride(4)]
//   [Records: record_count x (slot(SlotWidth) | offset(8) | length(4) | revision(4))]
//
// Record i starts at HeaderSize + i*RecordSize, so any record can be read
// with a single positioned read.

const (
	Magic      = 0x58544143 // "CATX"
	Version    = 1
	HeaderSize = 16

	// MaxStride bounds the key width so a record always fits in memory
	MaxStride = 1 << 16

	hashPrefix   = 8
	recordFooter = 8 + 4 + 4

	flagHashOrder uint16 = 1 << 0
)

// KeyOrder selects how records are ordered in the index.
type KeyOrder int

const (
	// KeyOrderText orders records by the key text, byte-wise.
	KeyOrderText KeyOrder = iota
	// KeyOrderHash orders records by a murmur3 hash of the key text. The key
	// text is kept in the slot after the hash so equal hashes are told apart.
	KeyOrderHash
)

// String returns the configuration name of the order
func (o KeyOrder) String() string {
	switch o {
	case KeyOrderText:
		return "text"
	case KeyOrderHash:
		return "hash"
	default:
		return "unknown"
	}
}

// ParseKeyOrder converts a configuration name to a KeyOrder
func ParseKeyOrder(s string) (KeyOrder, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return KeyOrderText, nil
	case "hash":
		return KeyOrderHash, nil
	default:
		return 0, fmt.Errorf("unknown key order %q", s)
	}
}

// Header represents the header of an index file
type Header struct {
	Magic       uint32
	Version     uint16
	Flags       uint16
	RecordCount uint32
	Stride      uint32
}

// Layout describes the shape of index records.
type Layout struct {
	Stride int // maximum key length in bytes
	Order  KeyOrder
}

// Validate checks that the layout can be written to disk
func (l Layout) Validate() error {
	if l.Stride <= 0 || l.Stride > MaxStride {
		return fmt.Errorf("stride %d out of range (1..%d)", l.Stride, MaxStride)
	}
	if l.Order != KeyOrderText && l.Order != KeyOrderHash {
		return fmt.Errorf("invalid key order %d", l.Order)
	}
	return nil
}

// SlotWidth returns the byte width of the searchable key slot.
func (l Layout) SlotWidth() int {
	if l.Order == KeyOrderHash {
		return hashPrefix + l.Stride
	}
	return l.Stride
}

// RecordSize returns the fixed byte stride between records.
func (l Layout) RecordSize() int {
	return l.SlotWidth() + recordFooter
}

// EncodeKey converts key text to its fixed-width slot. Slots of one layout
// compare with bytes.Compare in index order.
func (l Layout) EncodeKey(key string) ([]byte, error) {
	if strings.IndexByte(key, 0) >= 0 {
		return nil, storeerr.New("encode").Key(key).Kind(storeerr.ErrInvalidKey).Err()
	}
	if len(key) > l.Stride {
		return nil, storeerr.KeyTooLong(key, l.Stride)
	}

	slot := make([]byte, l.SlotWidth())
	text := slot
	if l.Order == KeyOrderHash {
		binary.BigEndian.PutUint64(slot[:hashPrefix], murmur3.Sum64([]byte(key)))
		text = slot[hashPrefix:]
	}
	copy(text, key)
	return slot, nil
}

// DecodeKey recovers the key text from a slot.
func (l Layout) DecodeKey(slot []byte) string {
	text := slot
	if l.Order == KeyOrderHash && len(slot) >= hashPrefix {
		text = slot[hashPrefix:]
	}
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	return string(text)
}

func (l Layout) header(count uint32) Header {
	h := Header{
		Magic:       Magic,
		Version:     Version,
		RecordCount: count,
		Stride:      uint32(l.Stride),
	}
	if l.Order == KeyOrderHash {
		h.Flags |= flagHashOrder
	}
	return h
}

// parseHeader decodes and validates an index header.
func parseHeader(buf []byte) (Header, Layout, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, Layout{}, fmt.Errorf("short header: %d bytes", len(buf))
	}
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	h.Flags = binary.LittleEndian.Uint16(buf[6:8])
	h.RecordCount = binary.LittleEndian.Uint32(buf[8:12])
	h.Stride = binary.LittleEndian.Uint32(buf[12:16])

	if h.Magic != Magic {
		return h, Layout{}, fmt.Errorf("invalid index magic: %x", h.Magic)
	}
	if h.Version != Version {
		return h, Layout{}, fmt.Errorf("unsupported index version %d", h.Version)
	}

	layout := Layout{Stride: int(h.Stride), Order: KeyOrderText}
	if h.Flags&flagHashOrder != 0 {
		layout.Order = KeyOrderHash
	}
	if err := layout.Validate(); err != nil {
		return h, Layout{}, err
	}
	return h, layout, nil
}

// Record maps a key slot to the value handle holding its newest value.
type Record struct {
	Slot     []byte
	Handle   valuestore.Handle
	Revision uint32 // times the key has been overwritten
}

// encodeRecord writes rec into buf, which must be RecordSize long.
func (l Layout) encodeRecord(buf []byte, rec Record) {
	w := l.SlotWidth()
	copy(buf[:w], rec.Slot)
	binary.LittleEndian.PutUint64(buf[w:w+8], rec.Handle.Offset)
	binary.LittleEndian.PutUint32(buf[w+8:w+12], rec.Handle.Length)
	binary.LittleEndian.PutUint32(buf[w+12:w+16], rec.Revision)
}

// decodeRecord copies a record out of buf.
func (l Layout) decodeRecord(buf []byte) Record {
	w := l.SlotWidth()
	slot := make([]byte, w)
	copy(slot, buf[:w])
	return Record{
		Slot: slot,
		Handle: valuestore.Handle{
			Offset: binary.LittleEndian.Uint64(buf[w : w+8]),
			Length: binary.LittleEndian.Uint32(buf[w+8 : w+12]),
		},
		Revision: binary.LittleEndian.Uint32(buf[w+12 : w+16]),
	}
}

// Compare orders two records by slot
func Compare(a, b Record) int {
	return bytes.Compare(a.Slot, b.Slot)
}
