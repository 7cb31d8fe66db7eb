package vhdregions

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"vhdregions/internal/binaryio"
)

// parseRegionTable reads the 64 KiB region table block, validates its
// header, and walks its entries, recognizing the BAT and metadata region
// GUIDs. Every entry (recognized or not) is registered so that
// regionOverlaps can check a range against it.
func (x *VHDX) parseRegionTable() error {
	blob, err := binaryio.SliceAt(x.data, vhdxRegionTableOffset, vhdxHeaderBlockSize)
	if err != nil {
		return errors.Wrap(err, "vhdx: reading region table block")
	}

	var hdr vhdxRegionTableHeader
	if err := binaryio.StructAt(blob, 0, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "vhdx: decoding region table header")
	}
	if hdr.Signature != vhdxRegionSignature {
		return errFormat("vhdx format error: bad region table signature")
	}
	if hdr.EntryCount > vhdxRegionMaxEntries {
		return errFormat("vhdx format error: region table has %d entries, max %d", hdr.EntryCount, vhdxRegionMaxEntries)
	}

	var batFound, metadataFound bool
	offset := 16 // size of vhdxRegionTableHeader
	for i := uint32(0); i < hdr.EntryCount; i++ {
		var entry vhdxRegionTableEntry
		if err := binaryio.StructAt(blob, offset, binary.LittleEndian, &entry); err != nil {
			return errors.Wrapf(err, "vhdx: decoding region table entry %d", i)
		}
		offset += 32

		x.registerRegion(entry.FileOffset, uint64(entry.Length))

		switch entry.GUID {
		case vhdxRegionBAT:
			if batFound {
				return errFormat("vhdx format error: duplicate BAT region entry")
			}
			batFound = true
			x.batRegion = entry
			continue
		case vhdxRegionMetadata:
			if metadataFound {
				return errFormat("vhdx format error: duplicate metadata region entry")
			}
			metadataFound = true
			x.metadataRegion = entry
			continue
		}

		if entry.DataBits&vhdxRegionEntryRequired != 0 {
			return errUnsupported("vhdx: unrecognized required region %s", canonicalGUIDString(entry.GUID))
		}
	}

	if !batFound || !metadataFound {
		return errFormat("vhdx format error: missing required BAT or metadata region")
	}
	return nil
}

func (x *VHDX) registerRegion(start, length uint64) {
	x.regions = append(x.regions, vhdxRegion{start: start, end: start + length})
}

// regionOverlaps reports whether the half-open range starting at start and
// length bytes long overlaps any previously registered region. Unused by
// the BAT/metadata read path today, which never needs to re-validate
// regions it has already consumed, but kept available for callers that
// want to audit a region before trusting its offset.
func (x *VHDX) regionOverlaps(start, length uint64) bool {
	end := start + length
	for _, r := range x.regions {
		if !(start >= r.end || end <= r.start) {
			return true
		}
	}
	return false
}
