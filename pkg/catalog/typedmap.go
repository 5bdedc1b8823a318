package catalog

import (
	"errors"
	"iter"

	"github.com/dd0wney/cluso-catalog/pkg/storeerr"
)

// Map is a typed view of a Catalog. Keys and values pass through their
// codecs; the catalog itself only sees text.
type Map[K, V any] struct {
	c      *Catalog
	keys   Codec[K]
	values Codec[V]
}

// NewMap wraps c with the given codecs
func NewMap[K, V any](c *Catalog, keys Codec[K], values Codec[V]) *Map[K, V] {
	return &Map[K, V]{c: c, keys: keys, values: values}
}

// Catalog returns the underlying catalog
func (m *Map[K, V]) Catalog() *Catalog {
	return m.c
}

// Insert encodes k and v and inserts them
func (m *Map[K, V]) Insert(k K, v V) error {
	key, err := m.keys.Encode(k)
	if err != nil {
		return err
	}
	value, err := m.values.Encode(v)
	if err != nil {
		return err
	}
	return m.c.Insert(key, value)
}

// Get looks up k and decodes its value. Stored text the value codec cannot
// read is ErrParse.
func (m *Map[K, V]) Get(k K) (V, bool, error) {
	var zero V

	key, err := m.keys.Encode(k)
	if err != nil {
		return zero, false, err
	}
	text, found, err := m.c.Get(key)
	if err != nil || !found {
		return zero, found, err
	}

	v, err := m.values.Decode(text)
	if err != nil {
		return zero, false, asParse(key, err)
	}
	return v, true, nil
}

// Finish merges pending inserts, see Catalog.Finish
func (m *Map[K, V]) Finish() error {
	return m.c.Finish()
}

// All yields decoded entries of the merged index in index order. Iteration
// stops at the first error, which is stored in *errp.
func (m *Map[K, V]) All(errp *error) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for e, err := range m.c.All() {
			if err != nil {
				*errp = err
				return
			}
			k, err := m.keys.Decode(e.Key)
			if err != nil {
				*errp = asParse(e.Key, err)
				return
			}
			v, err := m.values.Decode(e.Value)
			if err != nil {
				*errp = asParse(e.Key, err)
				return
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

func asParse(key string, err error) error {
	var se *storeerr.Error
	if errors.As(err, &se) && errors.Is(err, storeerr.ErrParse) {
		se.Key = key
		return se
	}
	return storeerr.Parse(key, err)
}
