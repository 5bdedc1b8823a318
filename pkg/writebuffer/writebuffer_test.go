package writebuffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dd0wney/cluso-catalog/pkg/valuestore"
)

func h(off uint64) valuestore.Handle {
	return valuestore.Handle{Offset: off, Length: 1}
}

// TestBuffer_BasicOperations tests Put/Get
func TestBuffer_BasicOperations(t *testing.T) {
	b := New()

	b.Put([]byte("key"), h(10))

	e, found := b.Get([]byte("key"))
	if !found {
		t.Fatal("Expected to find key")
	}
	if e.Handle != h(10) {
		t.Errorf("Expected handle %+v, got %+v", h(10), e.Handle)
	}
	if e.Puts != 1 {
		t.Errorf("Expected 1 put, got %d", e.Puts)
	}

	if _, found := b.Get([]byte("missing")); found {
		t.Error("Expected missing key not to be found")
	}
}

// TestBuffer_Overwrite tests that the newest handle wins
func TestBuffer_Overwrite(t *testing.T) {
	b := New()

	b.Put([]byte("key"), h(1))
	size := b.Bytes()
	b.Put([]byte("key"), h(2))
	b.Put([]byte("key"), h(3))

	e, _ := b.Get([]byte("key"))
	if e.Handle != h(3) {
		t.Errorf("Expected newest handle, got %+v", e.Handle)
	}
	if e.Puts != 3 {
		t.Errorf("Expected 3 puts, got %d", e.Puts)
	}
	if b.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", b.Len())
	}
	if b.Bytes() != size {
		t.Errorf("Overwrite changed size estimate from %d to %d", size, b.Bytes())
	}
}

// TestBuffer_CallerSlotNotRetained tests that Put copies the slot
func TestBuffer_CallerSlotNotRetained(t *testing.T) {
	b := New()

	slot := []byte("aaa")
	b.Put(slot, h(1))
	slot[0] = 'z'

	if _, found := b.Get([]byte("aaa")); !found {
		t.Error("Buffer entry changed when caller reused its slot")
	}
}

// TestBuffer_OrderedIteration tests that All and Drain are sorted
func TestBuffer_OrderedIteration(t *testing.T) {
	b := New()

	for _, k := range []string{"cherry", "apple", "banana", "apple"} {
		b.Put([]byte(k), h(uint64(len(k))))
	}

	var keys []string
	for e := range b.All() {
		keys = append(keys, string(e.Slot))
	}
	if fmt.Sprint(keys) != "[apple banana cherry]" {
		t.Errorf("All = %v", keys)
	}

	if snap := b.Snapshot(); len(snap) != 3 || b.Len() != 3 {
		t.Errorf("Snapshot returned %d entries, buffer has %d", len(snap), b.Len())
	}

	drained := b.Drain()
	if len(drained) != 3 {
		t.Fatalf("Drain returned %d entries, want 3", len(drained))
	}
	for i := 1; i < len(drained); i++ {
		if string(drained[i-1].Slot) >= string(drained[i].Slot) {
			t.Errorf("Drain out of order at %d", i)
		}
	}
	if drained[0].Puts != 2 {
		t.Errorf("apple puts = %d, want 2", drained[0].Puts)
	}

	if b.Len() != 0 || b.Bytes() != 0 {
		t.Errorf("Buffer not empty after Drain: len=%d bytes=%d", b.Len(), b.Bytes())
	}
}

// TestBuffer_EarlyStop tests that All honors a break
func TestBuffer_EarlyStop(t *testing.T) {
	b := New()
	for i := 0; i < 10; i++ {
		b.Put([]byte(fmt.Sprintf("k%d", i)), h(uint64(i)))
	}

	n := 0
	for range b.All() {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("iterated %d entries, want 3", n)
	}

	// The read lock must have been released
	b.Clear()
	if b.Len() != 0 {
		t.Errorf("Clear left %d entries", b.Len())
	}
}

// TestBuffer_ConcurrentAccess tests concurrent readers with a writer
func TestBuffer_ConcurrentAccess(t *testing.T) {
	b := New()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Put([]byte(fmt.Sprintf("key-%04d", i)), h(uint64(i)))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b.Get([]byte(fmt.Sprintf("key-%04d", i)))
			}
		}()
	}

	wg.Wait()

	if b.Len() != 1000 {
		t.Errorf("Expected 1000 entries, got %d", b.Len())
	}
}
