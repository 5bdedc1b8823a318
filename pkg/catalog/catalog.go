// Package catalog is a file-backed sorted map from text keys to text values.
//
// Values are appended to a value store; keys live in a sorted index of
// fixed-stride records searched with O(log n) positioned reads. Inserts go
// to an in-memory write buffer that shadows the index until Finish merges
// it into a new index file. A MANIFEST names the live index and value files,
// and replacing it is what makes a merge visible.
package catalog

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-catalog/pkg/logging"
	"github.com/dd0wney/cluso-catalog/pkg/merge"
	"github.com/dd0wney/cluso-catalog/pkg/metrics"
	"github.com/dd0wney/cluso-catalog/pkg/sortedindex"
	"github.com/dd0wney/cluso-catalog/pkg/storeerr"
	"github.com/dd0wney/cluso-catalog/pkg/valuestore"
	"github.com/dd0wney/cluso-catalog/pkg/writebuffer"
)

// Entry is one key with its current value. Revision counts how many times
// the key has been overwritten.
type Entry struct {
	Key      string
	Value    string
	Revision uint32
}

// Stats is a point-in-time snapshot of catalog state
type Stats struct {
	ID            string
	Generation    uint64
	IndexRecords  int
	BufferEntries int
	BufferBytes   int
	ValueBytes    uint64
	Compressed    bool
	Inserts       int64
	Gets          int64
	Merges        int64
	Compactions   int64
	IndexLookups  int64
	IndexProbes   int64
	CacheEntries  int
	CacheHits     int64
	CacheMisses   int64
}

// Catalog is a sorted key/value map stored in one directory.
// Insert, Finish and Compact are serialized; Get runs concurrently with
// other readers.
type Catalog struct {
	mu sync.RWMutex

	dir      string
	opts     Options
	layout   sortedindex.Layout
	compress bool
	manifest Manifest

	values *valuestore.Store
	index  *sortedindex.Reader
	buffer *writebuffer.Buffer
	cache  *valueCache

	logger  logging.Logger
	metrics *metrics.Registry

	closed bool

	inserts     atomic.Int64
	gets        atomic.Int64
	merges      atomic.Int64
	compactions atomic.Int64
}

// Open opens the catalog in dir, creating it if the directory holds no
// MANIFEST.
func Open(dir string, opts Options) (*Catalog, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	logger := opts.Logger.With(logging.Component("catalog"), logging.Path(dir))

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storeerr.IO("open", dir, err)
	}

	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	layout, compress, err := opts.resolveLayout(m)
	if err != nil {
		if errors.Is(err, storeerr.ErrLayoutMismatch) {
			return nil, err
		}
		return nil, storeerr.New("open").Path(dir).Kind(storeerr.ErrLayoutMismatch).Cause(err).Err()
	}

	c := &Catalog{
		dir:      dir,
		opts:     opts,
		layout:   layout,
		compress: compress,
		buffer:   writebuffer.New(),
		metrics:  opts.Metrics,
	}
	if opts.CacheSize > 0 {
		c.cache = newValueCache(opts.CacheSize)
	}

	if m == nil {
		err = c.create()
	} else {
		err = c.load(*m)
	}
	if err != nil {
		return nil, err
	}

	c.logger = logger.With(logging.CatalogID(c.manifest.ID))
	c.removeStale()
	c.updateGauges()

	c.logger.Info("catalog opened",
		logging.Generation(c.manifest.Generation),
		logging.Records(c.index.Len()),
		logging.Int("stride", layout.Stride),
		logging.String("key_order", layout.Order.String()),
		logging.Bool("compress", compress))

	return c, nil
}

// create initializes an empty catalog: generation 1 with an empty index.
func (c *Catalog) create() error {
	m := Manifest{
		ID:         uuid.NewString(),
		Generation: 1,
		Index:      indexFileName(1),
		Values:     valuesFileName(1),
		Stride:     c.layout.Stride,
		KeyOrder:   c.layout.Order.String(),
		Compress:   c.compress,
	}

	indexPath := filepath.Join(c.dir, m.Index)
	if err := sortedindex.Build(indexPath, c.layout, nil); err != nil {
		return err
	}

	valuesPath := filepath.Join(c.dir, m.Values)
	_ = os.Remove(valuesPath)
	values, err := valuestore.Open(valuesPath, c.storeOptions())
	if err != nil {
		_ = os.Remove(indexPath)
		return err
	}

	index, err := sortedindex.Open(indexPath)
	if err != nil {
		_ = values.Close()
		return err
	}

	if err := writeManifest(c.dir, m); err != nil {
		_ = index.Close()
		_ = values.Close()
		return err
	}

	c.manifest, c.values, c.index = m, values, index
	return nil
}

// load opens the files named by an existing manifest.
func (c *Catalog) load(m Manifest) error {
	valuesPath := filepath.Join(c.dir, m.Values)
	if _, err := os.Stat(valuesPath); err != nil {
		return storeerr.IO("open", valuesPath, err)
	}

	index, err := sortedindex.Open(filepath.Join(c.dir, m.Index))
	if err != nil {
		return err
	}
	if index.Layout() != c.layout {
		_ = index.Close()
		return storeerr.New("open").Path(index.Path()).Kind(storeerr.ErrCorruptIndex).
			Cause(fmt.Errorf("index layout %+v does not match manifest %+v", index.Layout(), c.layout)).Err()
	}

	values, err := valuestore.Open(valuesPath, c.storeOptions())
	if err != nil {
		_ = index.Close()
		return err
	}

	c.manifest, c.values, c.index = m, values, index
	return nil
}

func (c *Catalog) storeOptions() valuestore.Options {
	return valuestore.Options{
		Compress:   c.compress,
		BufferSize: c.opts.WriteBufferSize,
	}
}

func errClosed(op string) error {
	return storeerr.New(op).Kind(storeerr.ErrClosed).Err()
}

// Insert stores value under key. The value is appended to the value store
// immediately; the key becomes part of the sorted index at the next Finish.
// If BufferCapacity is exceeded the insert triggers Finish, and an error
// from that merge is returned with the insert itself still buffered.
func (c *Catalog) Insert(key, value string) error {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.insertLocked(key, value)
	c.observe("insert", start, err)
	return err
}

func (c *Catalog) insertLocked(key, value string) error {
	if c.closed {
		return errClosed("insert")
	}

	slot, err := c.layout.EncodeKey(key)
	if err != nil {
		return err
	}

	h, err := c.values.Append([]byte(value))
	if err != nil {
		return err
	}
	c.buffer.Put(slot, h)
	if c.cache != nil {
		c.cache.invalidate(key)
	}
	c.inserts.Add(1)

	if c.opts.BufferCapacity > 0 && c.buffer.Len() > c.opts.BufferCapacity {
		return c.finishLocked("auto")
	}
	c.updateGauges()
	return nil
}

// Get returns the current value of key. A missing key is ("", false, nil).
func (c *Catalog) Get(key string) (string, bool, error) {
	start := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	value, found, err := c.getLocked(key)
	c.observe("get", start, err)
	return value, found, err
}

func (c *Catalog) getLocked(key string) (string, bool, error) {
	if c.closed {
		return "", false, errClosed("get")
	}
	c.gets.Add(1)

	if c.cache != nil {
		value, hit := c.cache.get(key)
		c.recordCache(hit)
		if hit {
			c.recordLookup("cache", 0)
			return value, true, nil
		}
	}

	slot, err := c.layout.EncodeKey(key)
	if err != nil {
		return "", false, err
	}

	var h valuestore.Handle
	if e, ok := c.buffer.Get(slot); ok {
		c.recordLookup("buffer", 0)
		h = e.Handle
	} else {
		rec, found, probes, err := c.index.Search(slot)
		if err != nil {
			return "", false, err
		}
		if !found {
			c.recordLookup("miss", probes)
			return "", false, nil
		}
		c.recordLookup("index", probes)
		h = rec.Handle
	}

	raw, err := c.values.Read(h)
	if err != nil {
		return "", false, err
	}
	value := string(raw)
	if c.cache != nil {
		c.cache.put(key, value)
	}
	return value, true, nil
}

// GetEntry returns key's value together with its revision.
func (c *Catalog) GetEntry(key string) (Entry, bool, error) {
	start := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found, err := c.getEntryLocked(key)
	c.observe("get_entry", start, err)
	return entry, found, err
}

func (c *Catalog) getEntryLocked(key string) (Entry, bool, error) {
	if c.closed {
		return Entry{}, false, errClosed("get")
	}
	c.gets.Add(1)

	slot, err := c.layout.EncodeKey(key)
	if err != nil {
		return Entry{}, false, err
	}

	rec, indexed, probes, err := c.index.Search(slot)
	if err != nil {
		return Entry{}, false, err
	}

	h, revision := rec.Handle, rec.Revision
	if e, ok := c.buffer.Get(slot); ok {
		c.recordLookup("buffer", probes)
		h, revision = e.Handle, e.Puts-1
		if indexed {
			// Same arithmetic as the merge that will fold this entry in
			revision += rec.Revision + 1
		}
	} else if !indexed {
		c.recordLookup("miss", probes)
		return Entry{}, false, nil
	} else {
		c.recordLookup("index", probes)
	}

	raw, err := c.values.Read(h)
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Key: key, Value: string(raw), Revision: revision}, true, nil
}

// Finish merges the write buffer into a new sorted index and makes it
// current. It does nothing when the buffer is empty. On failure the
// previous index and the buffer are left as they were.
func (c *Catalog) Finish() error {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClosed("finish")
	}
	err := c.finishLocked("finish")
	c.observe("finish", start, err)
	return err
}

func (c *Catalog) finishLocked(kind string) error {
	if c.buffer.Len() == 0 {
		return nil
	}

	next := c.manifest
	next.Generation++
	next.Index = indexFileName(next.Generation)

	op := logging.StartTimer(c.logger, "merge complete",
		logging.String("kind", kind),
		logging.Generation(next.Generation))

	// Buffered handles must be durable before an index refers to them
	if err := c.values.Sync(); err != nil {
		op.EndError(err)
		return err
	}

	index, stats, err := c.mergeInto(next.Index, merge.Options{})
	if err != nil {
		op.EndError(err)
		return err
	}

	if err := writeManifest(c.dir, next); err != nil {
		c.discardIndex(index)
		op.EndError(err)
		return err
	}

	old := c.index
	c.index = index
	c.manifest = next
	c.buffer.Clear()
	if err := old.Close(); err != nil {
		c.logger.Warn("closing previous index failed", logging.Path(old.Path()), logging.Error(err))
	}
	c.removeStale()

	c.merges.Add(1)
	if c.metrics != nil {
		c.metrics.RecordMerge(kind, stats.Written, stats.Replaced, 0)
	}
	c.updateGauges()

	op.End(
		logging.Records(stats.Written),
		logging.Int("from_buffer", stats.FromBuffer),
		logging.Int("replaced", stats.Replaced))
	return nil
}

// Compact merges the write buffer like Finish and also copies every live
// value into a new value store, dropping the bytes of overwritten values.
func (c *Catalog) Compact() error {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClosed("compact")
	}
	err := c.compactLocked()
	c.observe("compact", start, err)
	return err
}

func (c *Catalog) compactLocked() error {
	next := c.manifest
	next.Generation++
	next.Index = indexFileName(next.Generation)
	next.Values = valuesFileName(next.Generation)

	op := logging.StartTimer(c.logger, "compaction complete", logging.Generation(next.Generation))

	valuesPath := filepath.Join(c.dir, next.Values)
	_ = os.Remove(valuesPath)
	store, err := valuestore.Open(valuesPath, c.storeOptions())
	if err != nil {
		op.EndError(err)
		return err
	}
	discardStore := func() {
		_ = store.Close()
		_ = os.Remove(valuesPath)
	}

	relocate := func(h valuestore.Handle) (valuestore.Handle, error) {
		raw, err := c.values.ReadRaw(h)
		if err != nil {
			return valuestore.Handle{}, err
		}
		return store.AppendRaw(raw)
	}

	index, stats, err := c.mergeInto(next.Index, merge.Options{Relocate: relocate})
	if err != nil {
		discardStore()
		op.EndError(err)
		return err
	}

	if err := store.Sync(); err != nil {
		c.discardIndex(index)
		discardStore()
		op.EndError(err)
		return err
	}

	if err := writeManifest(c.dir, next); err != nil {
		c.discardIndex(index)
		discardStore()
		op.EndError(err)
		return err
	}

	oldIndex, oldValues := c.index, c.values
	reclaimed := int64(oldValues.Size()) - int64(store.Size())

	c.index, c.values, c.manifest = index, store, next
	c.buffer.Clear()
	if err := oldIndex.Close(); err != nil {
		c.logger.Warn("closing previous index failed", logging.Path(oldIndex.Path()), logging.Error(err))
	}
	if err := oldValues.Close(); err != nil {
		c.logger.Warn("closing previous value store failed", logging.Path(oldValues.Path()), logging.Error(err))
	}
	c.removeStale()

	c.compactions.Add(1)
	if c.metrics != nil {
		c.metrics.RecordMerge("compact", stats.Written, stats.Replaced, reclaimed)
	}
	c.updateGauges()

	op.End(
		logging.Records(stats.Written),
		logging.Bytes(stats.BytesRelocated),
		logging.Int64("reclaimed", reclaimed))
	return nil
}

// mergeInto merges buffer and index into a new index file named name and
// opens it. The buffer is not modified.
func (c *Catalog) mergeInto(name string, opts merge.Options) (*sortedindex.Reader, merge.Stats, error) {
	path := filepath.Join(c.dir, name)

	w, err := sortedindex.Create(path, c.layout)
	if err != nil {
		return nil, merge.Stats{}, err
	}

	stats, err := merge.Merge(w, merge.FromBuffer(c.buffer.Snapshot()), c.index.All(), opts)
	if err != nil {
		w.Abort()
		return nil, stats, err
	}
	if err := w.Close(); err != nil {
		_ = os.Remove(path)
		return nil, stats, err
	}

	index, err := sortedindex.Open(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, stats, err
	}
	return index, stats, nil
}

func (c *Catalog) discardIndex(index *sortedindex.Reader) {
	_ = index.Close()
	_ = os.Remove(index.Path())
}

// removeStale deletes files of generations the manifest no longer names.
func (c *Catalog) removeStale() {
	stale, err := staleFiles(c.dir, c.manifest)
	if err != nil {
		c.logger.Warn("listing stale files failed", logging.Error(err))
		return
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			c.logger.Warn("removing stale file failed", logging.Path(path), logging.Error(err))
			continue
		}
		c.logger.Debug("removed stale file", logging.Path(path))
	}
}

// All yields the entries of the sorted index in index order. Inserts not
// yet merged by Finish are not included. Iteration reads through its own
// file handles, so it may run alongside Insert, Finish and Compact and
// keeps seeing the index that was current when it started.
func (c *Catalog) All() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		scanner, values, err := c.openSnapshot()
		if err != nil {
			yield(Entry{}, err)
			return
		}
		defer scanner.Close()
		defer values.Close()

		layout := scanner.Layout()
		for rec, err := range scanner.All() {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			raw, err := values.Read(rec.Handle)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			entry := Entry{
				Key:      layout.DecodeKey(rec.Slot),
				Value:    string(raw),
				Revision: rec.Revision,
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (c *Catalog) openSnapshot() (*sortedindex.Scanner, *valuestore.Store, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, nil, errClosed("iterate")
	}

	scanner, err := sortedindex.OpenScanner(c.index.Path())
	if err != nil {
		return nil, nil, err
	}
	values, err := valuestore.Open(c.values.Path(), valuestore.Options{
		Compress: c.compress,
		ReadOnly: true,
	})
	if err != nil {
		_ = scanner.Close()
		return nil, nil, err
	}
	return scanner, values, nil
}

// Len returns the number of distinct keys, merged or buffered.
func (c *Catalog) Len() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, errClosed("len")
	}

	n := c.index.Len()
	for e := range c.buffer.All() {
		_, indexed, err := c.index.Lookup(e.Slot)
		if err != nil {
			return 0, err
		}
		if !indexed {
			n++
		}
	}
	return n, nil
}

// Dir returns the catalog directory
func (c *Catalog) Dir() string {
	return c.dir
}

// Layout returns the key layout of the index
func (c *Catalog) Layout() sortedindex.Layout {
	return c.layout
}

// Stats returns a snapshot of catalog counters
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		ID:            c.manifest.ID,
		Generation:    c.manifest.Generation,
		BufferEntries: c.buffer.Len(),
		BufferBytes:   c.buffer.Bytes(),
		Inserts:       c.inserts.Load(),
		Gets:          c.gets.Load(),
		Merges:        c.merges.Load(),
		Compactions:   c.compactions.Load(),
	}
	if !c.closed {
		s.IndexRecords = c.index.Len()
		s.IndexLookups = c.index.Lookups()
		s.IndexProbes = c.index.Probes()
		s.ValueBytes = c.values.Size()
		s.Compressed = c.values.Compressed()
	}
	if c.cache != nil {
		s.CacheEntries = c.cache.len()
		s.CacheHits, s.CacheMisses = c.cache.stats()
	}
	return s
}

// Close releases the catalog's files. With FinishOnClose pending inserts
// are merged first; otherwise they are discarded.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	var errs []error
	if c.opts.FinishOnClose {
		if err := c.finishLocked("close"); err != nil {
			errs = append(errs, err)
		}
	}
	c.closed = true

	if err := c.values.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.index.Close(); err != nil {
		errs = append(errs, storeerr.IO("close", c.index.Path(), err))
	}

	c.logger.Info("catalog closed", logging.Generation(c.manifest.Generation))
	return errors.Join(errs...)
}

func (c *Catalog) observe(op string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.RecordOperation(op, err, time.Since(start))
	}
}

func (c *Catalog) recordLookup(source string, probes int) {
	if c.metrics != nil {
		c.metrics.RecordLookup(source, int64(probes))
	}
}

func (c *Catalog) recordCache(hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCache(hit)
	}
}

func (c *Catalog) updateGauges() {
	if c.metrics != nil {
		c.metrics.UpdateSizes(c.buffer.Len(), c.index.Len(), c.values.Size(), c.manifest.Generation)
	}
}
