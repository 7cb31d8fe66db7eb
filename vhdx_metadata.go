package vhdregions

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"vhdregions/internal/binaryio"
)

// parseMetadata reads the metadata table at the metadata region's file
// offset, validates its header, walks its entries recognizing the six
// known metadata GUIDs, then reads the payload fields each entry points to
// and derives the block-size-dependent quantities the BAT scan needs.
func (x *VHDX) parseMetadata() error {
	blob, err := binaryio.SliceAt(x.data, int(x.metadataRegion.FileOffset), vhdxMetadataTableMaxSize)
	if err != nil {
		return errors.Wrap(err, "vhdx: reading metadata table")
	}

	var hdr vhdxMetadataTableHeader
	if err := binaryio.StructAt(blob, 0, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "vhdx: decoding metadata table header")
	}
	if hdr.Signature != vhdxMetadataSignature {
		return errFormat("vhdx format error: bad metadata table signature")
	}

	const headerSize = 32
	if int(hdr.EntryCount)*vhdxMetadataEntrySize > vhdxMetadataTableMaxSize-headerSize {
		return errFormat("vhdx format error: metadata entry count overflows table")
	}

	var entries struct {
		fileParameters   vhdxMetadataTableEntry
		virtualDiskSize  vhdxMetadataTableEntry
		page83           vhdxMetadataTableEntry
		logicalSectorSize vhdxMetadataTableEntry
		physSectorSize   vhdxMetadataTableEntry
		parentLocator    vhdxMetadataTableEntry
	}

	offset := headerSize
	for i := uint16(0); i < hdr.EntryCount; i++ {
		var entry vhdxMetadataTableEntry
		if err := binaryio.StructAt(blob, offset, binary.LittleEndian, &entry); err != nil {
			return errors.Wrapf(err, "vhdx: decoding metadata entry %d", i)
		}
		offset += vhdxMetadataEntrySize

		var bit uint32
		var dst *vhdxMetadataTableEntry
		switch entry.ItemID {
		case vhdxMetaFileParameters:
			bit, dst = metaPresentFileParameters, &entries.fileParameters
		case vhdxMetaVirtualDiskSize:
			bit, dst = metaPresentVirtualDiskSize, &entries.virtualDiskSize
		case vhdxMetaPage83:
			bit, dst = metaPresentPage83, &entries.page83
		case vhdxMetaLogicalSectorSize:
			bit, dst = metaPresentLogicalSectorSize, &entries.logicalSectorSize
		case vhdxMetaPhysSectorSize:
			bit, dst = metaPresentPhysSectorSize, &entries.physSectorSize
		case vhdxMetaParentLocator:
			bit, dst = metaPresentParentLocator, &entries.parentLocator
		default:
			if entry.DataBits&vhdxMetaEntryRequired != 0 {
				return errUnsupported("vhdx: unrecognized required metadata entry %s", canonicalGUIDString(entry.ItemID))
			}
			continue
		}
		if x.metadataPresent&bit != 0 {
			return errFormat("vhdx format error: duplicate metadata entry %s", canonicalGUIDString(entry.ItemID))
		}
		x.metadataPresent |= bit
		*dst = entry
	}

	// Missing metadata entries are tolerated even though the format
	// requires them. Each payload read below runs only when its entry was
	// present; an absent field keeps its zero value, so a missing file
	// parameters or logical sector size entry fails the range checks
	// further down.
	regionBase := int(x.metadataRegion.FileOffset)

	if x.metadataPresent&metaPresentFileParameters != 0 {
		if err := binaryio.StructAt(x.data, regionBase+int(entries.fileParameters.Offset), binary.LittleEndian, &x.fileParameters); err != nil {
			return errors.Wrap(err, "vhdx: reading file parameters")
		}
	}
	if x.metadataPresent&metaPresentVirtualDiskSize != 0 {
		v, err := binaryio.Uint64At(x.data, regionBase+int(entries.virtualDiskSize.Offset), binary.LittleEndian)
		if err != nil {
			return errors.Wrap(err, "vhdx: reading virtual disk size")
		}
		x.virtualDiskSize = v
	}
	if x.metadataPresent&metaPresentLogicalSectorSize != 0 {
		v, err := binaryio.Uint32At(x.data, regionBase+int(entries.logicalSectorSize.Offset), binary.LittleEndian)
		if err != nil {
			return errors.Wrap(err, "vhdx: reading logical sector size")
		}
		x.logicalSectorSize = v
	}
	if x.metadataPresent&metaPresentPhysSectorSize != 0 {
		v, err := binaryio.Uint32At(x.data, regionBase+int(entries.physSectorSize.Offset), binary.LittleEndian)
		if err != nil {
			return errors.Wrap(err, "vhdx: reading physical sector size")
		}
		x.physicalSectorSize = v
	}

	if x.fileParameters.DataBits&vhdxParamsHasParent != 0 && x.metadataPresent&metaPresentParentLocator != 0 {
		var plHdr vhdxParentLocatorHeader
		if err := binaryio.StructAt(x.data, regionBase+int(entries.parentLocator.Offset), binary.LittleEndian, &plHdr); err != nil {
			return errors.Wrap(err, "vhdx: reading parent locator header")
		}
		if plHdr.LocatorType == vhdxParentLocatorTypeVHDX {
			x.hasParentLocator = true
			// Parent-locator key/value entries (paths to the parent
			// image) are parsed structurally but never dereferenced.
			// Resolving a parent chain by opening the parent file is
			// out of scope here.
		}
	}

	if x.fileParameters.BlockSize < vhdxBlockSizeMin || x.fileParameters.BlockSize > vhdxBlockSizeMax {
		return errFormat("vhdx format error: block_size %d out of range", x.fileParameters.BlockSize)
	}
	if x.logicalSectorSize != 512 && x.logicalSectorSize != 4096 {
		return errFormat("vhdx format error: logical_sector_size %d invalid", x.logicalSectorSize)
	}

	x.blockSize = x.fileParameters.BlockSize
	x.sectorsPerBlock = x.blockSize / x.logicalSectorSize
	x.chunkRatio = (uint64(vhdxMaxSectorsPerBlock) * uint64(x.logicalSectorSize)) / uint64(x.blockSize)

	if !isPowerOfTwo(uint64(x.blockSize)) {
		return errFormat("vhdx format error: block_size not a power of two")
	}
	if !isPowerOfTwo(uint64(x.logicalSectorSize)) {
		return errFormat("vhdx format error: logical_sector_size not a power of two")
	}
	if !isPowerOfTwo(uint64(x.sectorsPerBlock)) {
		return errFormat("vhdx format error: sectors_per_block not a power of two")
	}
	if !isPowerOfTwo(x.chunkRatio) {
		return errFormat("vhdx format error: chunk_ratio not a power of two")
	}
	x.chunkRatioBits = ctz(x.chunkRatio)

	return nil
}

// calcBatEntries derives the number of BAT slots, including the interleaved
// sector-bitmap slots: a differencing image (parent locator accepted)
// needs one bitmap slot per chunk plus the chunk itself; otherwise a
// bitmap slot follows every chunk except the trailing one.
func (x *VHDX) calcBatEntries() {
	dataBlocksCnt := ceilDiv(x.virtualDiskSize, uint64(x.blockSize))
	bitmapBlocksCnt := ceilDiv(dataBlocksCnt, x.chunkRatio)

	if x.hasParentLocator {
		x.batEntries = uint32(bitmapBlocksCnt * (x.chunkRatio + 1))
	} else {
		x.batEntries = uint32(dataBlocksCnt + ((dataBlocksCnt - 1) >> x.chunkRatioBits))
	}
}
