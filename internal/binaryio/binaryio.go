// Package binaryio decodes fixed-layout on-disk structures out of a mapped
// file region, with the byte order made explicit at every call site instead
// of relying on the host's native layout. VHD fields are big-endian; VHDX
// fields are little-endian.
package binaryio

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrShortRead is returned when a struct or slice read runs past the end of
// the supplied buffer.
var ErrShortRead = errors.New("binaryio: short read")

// StructAt decodes a fixed-size struct out of buf at offset, using order for
// every multi-byte field. v must be a pointer to a type encoding/binary can
// size and decode (no strings, no slices of variable length).
func StructAt(buf []byte, offset int, order binary.ByteOrder, v any) error {
	size := binary.Size(v)
	if size < 0 {
		return errors.Errorf("binaryio: %T has no fixed on-disk size", v)
	}
	if offset < 0 || offset+size > len(buf) {
		return errors.WithStack(ErrShortRead)
	}
	return binary.Read(bytes.NewReader(buf[offset:offset+size]), order, v)
}

// Uint32At decodes a single little/big-endian uint32 out of buf at offset.
func Uint32At(buf []byte, offset int, order binary.ByteOrder) (uint32, error) {
	if offset < 0 || offset+4 > len(buf) {
		return 0, errors.WithStack(ErrShortRead)
	}
	return order.Uint32(buf[offset : offset+4]), nil
}

// Uint64At decodes a single little/big-endian uint64 out of buf at offset.
func Uint64At(buf []byte, offset int, order binary.ByteOrder) (uint64, error) {
	if offset < 0 || offset+8 > len(buf) {
		return 0, errors.WithStack(ErrShortRead)
	}
	return order.Uint64(buf[offset : offset+8]), nil
}

// SliceAt returns a copy of the n bytes of buf starting at offset, so callers
// never retain a reference into a memory-mapped file past Close/Unmap.
func SliceAt(buf []byte, offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+n > len(buf) {
		return nil, errors.WithStack(ErrShortRead)
	}
	out := make([]byte, n)
	copy(out, buf[offset:offset+n])
	return out, nil
}
