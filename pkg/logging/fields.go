package logging

import (
	"time"
)

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Catalog-specific helpers

func Component(name string) Field {
	return String("component", name)
}

func CatalogID(id string) Field {
	return String("catalog_id", id)
}

func Generation(gen uint64) Field {
	return Uint64("generation", gen)
}

func Path(p string) Field {
	return String("path", p)
}

func Records(n int) Field {
	return Int("records", n)
}

func Bytes(n int64) Field {
	return Int64("bytes", n)
}

// Latency records d in its String form, e.g. "1.5ms"
func Latency(d time.Duration) Field {
	return Field{Key: "latency", Value: d.String()}
}
