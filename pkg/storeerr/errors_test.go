package storeerr

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestErrorIsKind(t *testing.T) {
	err := IO("append", "/tmp/values.dat", io.ErrShortWrite)

	if !errors.Is(err, ErrIO) {
		t.Error("expected errors.Is(err, ErrIO)")
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Error("expected cause to be reachable through errors.Is")
	}
	if errors.Is(err, ErrCorruptHandle) {
		t.Error("IO error must not match ErrCorruptHandle")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{"key too long", KeyTooLong("abcdef", 4), []string{"encode", `"abcdef"`, "stride 4"}},
		{"corrupt handle", CorruptHandle("v.dat", 10, 5, nil), []string{"read v.dat", "offset 10 length 5"}},
		{"parse", Parse("k", errors.New("bad int")), []string{"decode", "bad int"}},
		{"bare", New("finish").Err(), []string{"finish"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, w := range tt.want {
				if !strings.Contains(msg, w) {
					t.Errorf("%q does not contain %q", msg, w)
				}
			}
		})
	}
}

func TestIsCorrupt(t *testing.T) {
	if !IsCorrupt(CorruptHandle("v.dat", 0, 1, io.ErrUnexpectedEOF)) {
		t.Error("corrupt handle should be corrupt")
	}
	if !IsCorrupt(New("open").Kind(ErrCorruptIndex).Err()) {
		t.Error("corrupt index should be corrupt")
	}
	if IsCorrupt(KeyTooLong("k", 0)) {
		t.Error("key too long is not corruption")
	}
	if IsCorrupt(nil) {
		t.Error("nil is not corruption")
	}
}
