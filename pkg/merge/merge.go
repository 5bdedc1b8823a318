// Package merge folds buffered inserts into a sorted index.
//
// The buffered side and the indexed side are both sorted by slot, so the
// merge is a single lockstep pass: on equal slots the buffered record wins
// and the indexed one is dropped, otherwise the smaller slot is written and
// its side advances. The output goes to a fresh index file; swapping it in
// is the caller's job.
package merge

import (
	"bytes"
	"iter"

	"github.com/dd0wney/cluso-catalog/pkg/sortedindex"
	"github.com/dd0wney/cluso-catalog/pkg/valuestore"
	"github.com/dd0wney/cluso-catalog/pkg/writebuffer"
)

// Sink receives merged records in slot order. *sortedindex.Writer is a Sink.
type Sink interface {
	Add(rec sortedindex.Record) error
}

// Options tunes a merge
type Options struct {
	// Relocate, if set, maps every surviving handle to a new one. Compaction
	// uses it to copy live values into a new value store.
	Relocate func(valuestore.Handle) (valuestore.Handle, error)
}

// Stats describes one merge
type Stats struct {
	Written        int   // records in the output
	FromBuffer     int   // records taken from the buffer
	FromIndex      int   // records carried over from the old index
	Replaced       int   // old index records shadowed by the buffer
	BytesRelocated int64 // value bytes copied by Relocate
}

// FromBuffer adapts buffered entries into index records.
func FromBuffer(entries []writebuffer.Entry) iter.Seq[sortedindex.Record] {
	return func(yield func(sortedindex.Record) bool) {
		for _, e := range entries {
			rec := sortedindex.Record{
				Slot:     e.Slot,
				Handle:   e.Handle,
				Revision: e.Puts - 1,
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// Merge writes the union of buffered and indexed to dst. Both inputs must be
// in strictly increasing slot order. For a key present on both sides the
// buffered record is kept and its revision continues from the indexed one.
func Merge(dst Sink, buffered iter.Seq[sortedindex.Record], indexed iter.Seq2[sortedindex.Record, error], opts Options) (Stats, error) {
	var stats Stats

	nextBuf, stopBuf := iter.Pull(buffered)
	defer stopBuf()
	nextIdx, stopIdx := iter.Pull2(indexed)
	defer stopIdx()

	// pullIdx returns the next indexed record, surfacing read errors
	pullIdx := func() (sortedindex.Record, bool, error) {
		rec, err, ok := nextIdx()
		if !ok {
			return sortedindex.Record{}, false, nil
		}
		if err != nil {
			return sortedindex.Record{}, false, err
		}
		return rec, true, nil
	}

	emit := func(rec sortedindex.Record) error {
		if opts.Relocate != nil {
			moved, err := opts.Relocate(rec.Handle)
			if err != nil {
				return err
			}
			rec.Handle = moved
			stats.BytesRelocated += int64(moved.Length)
		}
		if err := dst.Add(rec); err != nil {
			return err
		}
		stats.Written++
		return nil
	}

	bufRec, bufOK := nextBuf()
	idxRec, idxOK, err := pullIdx()
	if err != nil {
		return stats, err
	}

	for bufOK || idxOK {
		var cmp int
		switch {
		case bufOK && idxOK:
			cmp = bytes.Compare(bufRec.Slot, idxRec.Slot)
		case bufOK:
			cmp = -1
		default:
			cmp = 1
		}

		switch {
		case cmp == 0:
			// Same key: the buffered value is newer
			bufRec.Revision += idxRec.Revision + 1
			if err := emit(bufRec); err != nil {
				return stats, err
			}
			stats.FromBuffer++
			stats.Replaced++
			bufRec, bufOK = nextBuf()
			if idxRec, idxOK, err = pullIdx(); err != nil {
				return stats, err
			}
		case cmp < 0:
			if err := emit(bufRec); err != nil {
				return stats, err
			}
			stats.FromBuffer++
			bufRec, bufOK = nextBuf()
		default:
			if err := emit(idxRec); err != nil {
				return stats, err
			}
			stats.FromIndex++
			if idxRec, idxOK, err = pullIdx(); err != nil {
				return stats, err
			}
		}
	}

	return stats, nil
}
