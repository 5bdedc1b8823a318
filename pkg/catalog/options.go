package catalog

import (
	"github.com/dd0wney/cluso-catalog/pkg/logging"
	"github.com/dd0wney/cluso-catalog/pkg/metrics"
	"github.com/dd0wney/cluso-catalog/pkg/sortedindex"
)

// DefaultStride is the key width used when neither the options nor an
// existing manifest name one.
const DefaultStride = 64

// Options configures a Catalog.
//
// Layout fields (Stride, KeyOrder, Compress) are fixed when the catalog is
// created. Reopening with a zero value adopts the on-disk layout; a
// conflicting value fails with ErrLayoutMismatch.
type Options struct {
	Stride   int    // maximum key length in bytes
	KeyOrder string // "text" or "hash"
	Compress bool   // snappy-compress stored values

	// BufferCapacity triggers Finish from Insert once the write buffer holds
	// more distinct keys than this. 0 disables automatic merges.
	BufferCapacity int

	// CacheSize is the number of decoded values kept in the LRU cache.
	// 0 disables the cache.
	CacheSize int

	// WriteBufferSize sizes the value store's bufio.Writer (0 = default).
	WriteBufferSize int

	// FinishOnClose merges pending inserts when the catalog is closed.
	FinishOnClose bool

	Logger  logging.Logger
	Metrics *metrics.Registry // nil disables metrics
}

// DefaultOptions returns the options used by the command line tool
func DefaultOptions() Options {
	return Options{
		Stride:         DefaultStride,
		KeyOrder:       sortedindex.KeyOrderText.String(),
		BufferCapacity: 64 * 1024,
		CacheSize:      1024,
		FinishOnClose:  true,
	}
}

// resolveLayout merges the requested layout with the one recorded on disk.
func (o Options) resolveLayout(m *Manifest) (sortedindex.Layout, bool, error) {
	order, err := sortedindex.ParseKeyOrder(o.KeyOrder)
	if err != nil {
		return sortedindex.Layout{}, false, err
	}

	if m == nil {
		stride := o.Stride
		if stride == 0 {
			stride = DefaultStride
		}
		layout := sortedindex.Layout{Stride: stride, Order: order}
		return layout, o.Compress, layout.Validate()
	}

	// readManifest has already rejected an unknown key order
	diskOrder, _ := sortedindex.ParseKeyOrder(m.KeyOrder)
	switch {
	case o.Stride != 0 && o.Stride != m.Stride:
		return sortedindex.Layout{}, false, errLayout("stride", o.Stride, m.Stride)
	case o.KeyOrder != "" && order != diskOrder:
		return sortedindex.Layout{}, false, errLayout("key order", order, diskOrder)
	case o.Compress && !m.Compress:
		return sortedindex.Layout{}, false, errLayout("compress", o.Compress, m.Compress)
	}

	layout := sortedindex.Layout{Stride: m.Stride, Order: diskOrder}
	return layout, m.Compress, layout.Validate()
}
