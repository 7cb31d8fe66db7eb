package vhdregions

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"vhdregions/internal/binaryio"
)

// readBat allocates and reads the bat_region.length bytes that hold the
// image's Block Allocation Table.
func (x *VHDX) readBat() error {
	if x.batEntries == 0 {
		x.bat = nil
		return nil
	}
	if uint64(x.batRegion.Length) > uint64(len(x.data)) {
		return errAlloc("vhdx: BAT region length %d exceeds mapped file size %d", x.batRegion.Length, len(x.data))
	}
	bat := make([]uint64, x.batRegion.Length/8)
	for i := range bat {
		v, err := binaryio.Uint64At(x.data, int(x.batOffset)+i*8, binary.LittleEndian)
		if err != nil {
			return errors.Wrap(err, "vhdx: reading BAT")
		}
		bat[i] = v
	}
	x.bat = bat
	return nil
}

// EnumerateAreas implements Parser. It walks the BAT, alternating between
// chunkRatio payload slots and a single interleaved sector-bitmap slot,
// emitting one DataArea per payload slot whose state is FULLY_PRESENT or
// PARTIALLY_PRESENT.
func (x *VHDX) EnumerateAreas() ([]DataArea, error) {
	if x.bat == nil {
		if err := x.readBat(); err != nil {
			return nil, err
		}
	}

	areas := make([]DataArea, 0, x.batEntries)
	payBlocks := x.chunkRatio
	pbIndex := uint64(0)

	for i := uint32(0); i < x.batEntries; i++ {
		if payBlocks > 0 {
			state := x.bat[i] & vhdxBatStateMask
			if state == payloadFullyPresent || state == payloadPartiallyPresent {
				areas = append(areas, DataArea{
					Offset: uint32((pbIndex * uint64(x.blockSize)) / mib),
					Length: x.blockSize / mib,
				})
			}
			pbIndex++
			payBlocks--
		} else {
			payBlocks = x.chunkRatio
		}
	}
	return areas, nil
}

// Close implements Parser. Safe to call more than once and safe to call on
// a VHDX whose Open failed partway through.
func (x *VHDX) Close() error {
	x.bat = nil
	x.regions = nil
	if x.data != nil {
		_ = x.data.Unmap()
		x.data = nil
	}
	if x.file != nil {
		err := x.file.Close()
		x.file = nil
		return err
	}
	return nil
}
