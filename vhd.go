package vhdregions

import (
	"encoding/binary"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"vhdregions/internal/binaryio"
)

const (
	vhdFooterCookie        = "conectix"
	vhdDynamicHeaderCookie = "cxsparse"

	vhdFooterSize  = 512
	vhdDynHdrSize  = 1024
	vhdSectorSize  = 512
	vhdBatEntryAbsent = 0xFFFFFFFF
)

// VHD disk type codes, per the footer's DiskType field.
const (
	vhdTypeFixed       = 2
	vhdTypeDynamic     = 3
	vhdTypeDifferencing = 4
)

// vhdFooter mirrors the 512-byte footer present at the end of every VHD
// (and mirrored at offset 0 for dynamic/differencing disks). Every field
// of the layout is named, though this parser consults only Cookie,
// DataOffset and CurSize; the trailing Reserved bytes keep the struct at
// exactly 512 bytes.
type vhdFooter struct {
	Cookie             [8]byte
	Features           uint32
	FileFormatVersion  uint32
	DataOffset         uint64
	TimeStamp          uint32
	CreatorApplication [4]byte
	CreatorVersion     uint32
	CreatorHostOS      uint32
	OriginalSize       uint64
	CurSize            uint64
	DiskGeometryCyl    uint16
	DiskGeometryHeads  uint8
	DiskGeometrySect   uint8
	DiskType           uint32
	Checksum           uint32
	UniqueID           [16]byte
	SavedState         uint8
	Reserved           [427]byte
}

// vhdDynamicHeader mirrors the 1024-byte dynamic-disk header located at the
// footer's DataOffset for dynamic and differencing disks.
type vhdDynamicHeader struct {
	Cookie           [8]byte
	DataOffset       uint64
	TableOffset      uint64
	HeaderVersion    uint32
	MaxTableEntries  uint32
	BlockSize        uint32
	Checksum         uint32
	ParentUniqueID   [16]byte
	ParentTimeStamp  uint32
	Reserved0        uint32
	ParentUnicodeName [256]uint16
	ParentLocator    [8]vhdParentLocatorEntry
	Reserved1        [256]byte
}

type vhdParentLocatorEntry struct {
	PlatformCode    uint32
	PlatformDataSpace uint32
	PlatformDataLength uint32
	Reserved        uint32
	PlatformDataOffset uint64
}

// VHD parses the legacy (pre-VHDX) virtual hard disk format: a 512-byte
// footer, optionally followed by a dynamic-disk header and Block Allocation
// Table for dynamic/differencing disks.
type VHD struct {
	file *os.File
	data mmap.MMap

	diskType    uint32
	curSize     uint64
	blockSize   uint32
	sectorsPerBlock uint32
	maxTableEntries uint32
	bat         []uint32 // sector offsets, 0xFFFFFFFF means absent
}

var _ Parser = (*VHD)(nil)

// Open implements Parser. It presumes the image is dynamic and reads the
// footer from offset 0; if the cookie doesn't match, it falls back to
// reading the footer from the last 512 bytes and marks the disk FIXED. The
// footer is mirrored at offset 0 only for dynamic/differencing disks; a
// fixed disk keeps it at EOF only.
func (v *VHD) Open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errIO("vhd: open failed", err)
	}
	v.file = f

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		v.file = nil
		return errIO("vhd: mmap failed", err)
	}
	v.data = data

	if err := v.parse(); err != nil {
		v.Close()
		return err
	}
	return nil
}

func (v *VHD) parse() error {
	var footer vhdFooter
	v.diskType = vhdTypeDynamic

	if len(v.data) < vhdFooterSize {
		return errFormat("vhd: file too small for a footer")
	}
	if err := binaryio.StructAt(v.data, 0, binary.BigEndian, &footer); err != nil {
		return errors.Wrap(err, "vhd: reading footer at offset 0")
	}

	if string(footer.Cookie[:]) != vhdFooterCookie {
		tailOffset := len(v.data) - vhdFooterSize
		if tailOffset < 0 {
			return errFormat("vhd format error")
		}
		if err := binaryio.StructAt(v.data, tailOffset, binary.BigEndian, &footer); err != nil {
			return errors.Wrap(err, "vhd: reading footer at EOF")
		}
		if string(footer.Cookie[:]) != vhdFooterCookie {
			return errFormat("vhd format error")
		}
		v.diskType = vhdTypeFixed
	}

	v.curSize = footer.CurSize

	if v.diskType != vhdTypeFixed {
		var dynHdr vhdDynamicHeader
		dataOffset := int(footer.DataOffset)
		if err := binaryio.StructAt(v.data, dataOffset, binary.BigEndian, &dynHdr); err != nil {
			return errors.Wrap(err, "vhd: reading dynamic header")
		}
		if string(dynHdr.Cookie[:]) != vhdDynamicHeaderCookie {
			return errFormat("vhd format error: bad dynamic header cookie")
		}

		v.blockSize = dynHdr.BlockSize
		v.sectorsPerBlock = v.blockSize / vhdSectorSize
		v.maxTableEntries = dynHdr.MaxTableEntries

		if uint64(v.maxTableEntries)*4 > uint64(len(v.data)) {
			return errAlloc("vhd: BAT entry count %d exceeds mapped file size %d", v.maxTableEntries, len(v.data))
		}
		bat := make([]uint32, v.maxTableEntries)
		tableOffset := int(dynHdr.TableOffset)
		for i := range bat {
			entry, err := binaryio.Uint32At(v.data, tableOffset+i*4, binary.BigEndian)
			if err != nil {
				return errors.Wrap(err, "vhd: reading BAT")
			}
			bat[i] = entry
		}
		v.bat = bat
	}

	return nil
}

// Close implements Parser. Safe to call more than once and safe to call on
// a VHD whose Open failed partway through.
func (v *VHD) Close() error {
	v.bat = nil
	if v.data != nil {
		_ = v.data.Unmap()
		v.data = nil
	}
	if v.file != nil {
		err := v.file.Close()
		v.file = nil
		return err
	}
	return nil
}

// EnumerateAreas implements Parser. For a FIXED disk it emits a single area
// covering the whole virtual size; for a DYNAMIC disk it emits one area per
// present BAT entry, one block per entry, ignoring the per-sector bitmap
// within a partially-allocated block (block-level granularity only).
func (v *VHD) EnumerateAreas() ([]DataArea, error) {
	if v.diskType == vhdTypeFixed {
		return []DataArea{{Offset: 0, Length: uint32(v.curSize / mib)}}, nil
	}

	areas := make([]DataArea, 0, len(v.bat))
	for i, entry := range v.bat {
		if entry == vhdBatEntryAbsent {
			continue
		}
		offset := (uint64(i) * uint64(v.sectorsPerBlock) * vhdSectorSize) / mib
		areas = append(areas, DataArea{
			Offset: uint32(offset),
			Length: v.blockSize / mib,
		})
	}
	return areas, nil
}

const mib = 1024 * 1024
