package catalog

import (
	"encoding"
	"encoding/json"
	"strconv"

	"github.com/dd0wney/cluso-catalog/pkg/storeerr"
)

// Codec converts a caller type to and from the text stored in a catalog.
// Decode must accept everything Encode produces.
type Codec[T any] interface {
	Encode(v T) (string, error)
	Decode(s string) (T, error)
}

func parseErr(cause error) error {
	return storeerr.New("decode").Kind(storeerr.ErrParse).Cause(cause).Err()
}

// StringCodec stores strings as they are
type StringCodec struct{}

func (StringCodec) Encode(v string) (string, error) { return v, nil }
func (StringCodec) Decode(s string) (string, error) { return s, nil }

// IntCodec stores int64 values in base 10
type IntCodec struct{}

func (IntCodec) Encode(v int64) (string, error) {
	return strconv.FormatInt(v, 10), nil
}

func (IntCodec) Decode(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, parseErr(err)
	}
	return v, nil
}

// UintCodec stores uint64 values in base 10
type UintCodec struct{}

func (UintCodec) Encode(v uint64) (string, error) {
	return strconv.FormatUint(v, 10), nil
}

func (UintCodec) Decode(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, parseErr(err)
	}
	return v, nil
}

// FloatCodec stores float64 values in the shortest form that parses back
// to the same value
type FloatCodec struct{}

func (FloatCodec) Encode(v float64) (string, error) {
	return strconv.FormatFloat(v, 'g', -1, 64), nil
}

func (FloatCodec) Decode(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, parseErr(err)
	}
	return v, nil
}

// TextCodec adapts any type implementing encoding.TextMarshaler and
// encoding.TextUnmarshaler, e.g. TextCodec[netip.Addr, *netip.Addr].
type TextCodec[T any, P interface {
	*T
	encoding.TextMarshaler
	encoding.TextUnmarshaler
}] struct{}

func (TextCodec[T, P]) Encode(v T) (string, error) {
	b, err := P(&v).MarshalText()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (TextCodec[T, P]) Decode(s string) (T, error) {
	var v T
	if err := P(&v).UnmarshalText([]byte(s)); err != nil {
		return v, parseErr(err)
	}
	return v, nil
}

// JSONCodec stores values as JSON documents
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (JSONCodec[T]) Decode(s string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return v, parseErr(err)
	}
	return v, nil
}
