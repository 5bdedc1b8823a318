// Package writebuffer holds inserts that have not been merged into the
// sorted index yet.
package writebuffer

import (
	"bytes"
	"iter"
	"sync"

	"github.com/google/btree"

	"github.com/dd0wney/cluso-catalog/pkg/valuestore"
)

// entryOverhead approximates per-entry btree and bookkeeping memory
const entryOverhead = 48

// Entry is a pending index record
type Entry struct {
	Slot   []byte
	Handle valuestore.Handle
	Puts   uint32 // inserts of this key since the last drain
}

func less(a, b Entry) bool {
	return bytes.Compare(a.Slot, b.Slot) < 0
}

// Buffer is an in-memory ordered map from key slot to pending value handle.
type Buffer struct {
	mu    sync.RWMutex
	tree  *btree.BTreeG[Entry]
	bytes int // approximate memory in bytes
}

// New creates an empty Buffer
func New() *Buffer {
	return &Buffer{
		tree: btree.NewG[Entry](32, less),
	}
}

// Put inserts or overwrites the entry for slot. The newest handle wins.
func (b *Buffer) Put(slot []byte, h valuestore.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := Entry{Slot: slot, Handle: h, Puts: 1}
	if old, ok := b.tree.Get(Entry{Slot: slot}); ok {
		e.Puts = old.Puts + 1
		e.Slot = old.Slot
	} else {
		e.Slot = append([]byte(nil), slot...)
		b.bytes += len(slot) + entryOverhead
	}
	b.tree.ReplaceOrInsert(e)
}

// Get returns the pending entry for slot
func (b *Buffer) Get(slot []byte) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tree.Get(Entry{Slot: slot})
}

// Len returns the number of distinct keys buffered
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tree.Len()
}

// Bytes returns the approximate memory held by the buffer
func (b *Buffer) Bytes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bytes
}

// All yields buffered entries in slot order. The buffer must not be
// modified until iteration finishes.
func (b *Buffer) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		b.mu.RLock()
		defer b.mu.RUnlock()
		b.tree.Ascend(func(e Entry) bool {
			return yield(e)
		})
	}
}

// Snapshot returns the entries in slot order without clearing the buffer.
func (b *Buffer) Snapshot() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := make([]Entry, 0, b.tree.Len())
	b.tree.Ascend(func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	return entries
}

// Drain returns the entries in slot order and empties the buffer.
func (b *Buffer) Drain() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make([]Entry, 0, b.tree.Len())
	b.tree.Ascend(func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	b.tree.Clear(false)
	b.bytes = 0
	return entries
}

// Clear removes all entries (used after a merge)
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tree.Clear(false)
	b.bytes = 0
}
