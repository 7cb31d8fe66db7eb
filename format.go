package vhdregions

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
)

type imageFormat int

const (
	formatUnknown imageFormat = iota
	formatVHD
	formatVHDX
)

// detectFormat sniffs path to tell a VHD image from a VHDX one by its
// magic bytes. VHDX is identified by its 8-byte signature at offset 0,
// while VHD's footer cookie is normally found at end-of-file rather than
// the start (and mirrored at offset 0 only for dynamic/differencing
// disks), so both ends of the file are checked before giving up.
func detectFormat(f *os.File) (imageFormat, error) {
	head := make([]byte, 8)
	if _, err := f.ReadAt(head, 0); err == nil && bytes.Equal(head, []byte(vhdxFileSignature)) {
		return formatVHDX, nil
	}
	if bytes.Equal(head, []byte(vhdFooterCookie)) {
		return formatVHD, nil
	}

	info, err := f.Stat()
	if err != nil {
		return formatUnknown, errIO("detecting image format", err)
	}
	if info.Size() >= vhdFooterSize {
		tail := make([]byte, 8)
		if _, err := f.ReadAt(tail, info.Size()-vhdFooterSize); err == nil && bytes.Equal(tail, []byte(vhdFooterCookie)) {
			return formatVHD, nil
		}
	}

	return formatUnknown, errFormat("unrecognized image format")
}

// OpenImage opens path as either a VHD or a VHDX image, auto-detecting the
// format by on-disk signature, and returns a Parser ready for
// EnumerateAreas. The caller is responsible for calling Close.
func OpenImage(path string) (Parser, error) {
	p, err := NewParser(path)
	if err != nil {
		return nil, err
	}
	if err := p.Open(path); err != nil {
		return nil, err
	}
	return p, nil
}

// NewParser returns a Parser of the right concrete type for path's
// on-disk format, without opening it. Useful for MergeChain, which reuses a
// single Parser instance across every image in a backup chain and expects
// them all to share a format.
func NewParser(path string) (Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errIO("opening image", err)
	}
	format, err := detectFormat(f)
	f.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "vhdregions: %s", path)
	}

	switch format {
	case formatVHD:
		return &VHD{}, nil
	case formatVHDX:
		return &VHDX{}, nil
	default:
		return nil, errFormat("vhdregions: %s: unrecognized image format", path)
	}
}
