package vhdregions

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"vhdregions/internal/binaryio"
)

// Layout of the first 1 MiB of a VHDX file: the header section is divided
// into 64 KiB blocks.
const (
	vhdxHeaderBlockSize = 64 * 1024

	vhdxFileIdentifierOffset = 0
	vhdxHeader1Offset        = vhdxHeaderBlockSize * 1
	vhdxHeader2Offset        = vhdxHeaderBlockSize * 2
	vhdxRegionTableOffset    = vhdxHeaderBlockSize * 3
	vhdxRegionTable2Offset   = vhdxHeaderBlockSize * 4

	vhdxFileSignature  = "vhdxfile"
	vhdxHeaderSignature = 0x64616568 // "head"
	vhdxHeaderVersion   = 1
	vhdxHeaderSize      = 4 * 1024

	vhdxRegionSignature = 0x69676572 // "regi"
	vhdxRegionMaxEntries = 2047

	vhdxMetadataSignature     = 0x617461646174656D // "metadata"
	vhdxMetadataEntrySize     = 32
	vhdxMetadataMaxEntries    = 2047
	vhdxMetadataTableMaxSize  = vhdxMetadataEntrySize * (vhdxMetadataMaxEntries + 1)

	vhdxRegionEntryRequired = 0x01
	vhdxMetaEntryRequired   = 0x04

	vhdxParamsHasParent = 0x02

	vhdxBlockSizeMin = 1 * mib
	vhdxBlockSizeMax = 256 * mib

	vhdxMaxSectorsPerBlock = 1 << 23

	vhdxBatStateMask = 0x07
)

// Payload BAT entry states (low 3 bits of a payload slot).
const (
	payloadNotPresent      = 0
	payloadUndefined       = 1
	payloadZero            = 2
	payloadUnmapped        = 3
	payloadUnmappedV095    = 5
	payloadFullyPresent    = 6
	payloadPartiallyPresent = 7
)

// Sector-bitmap BAT entry states (low 3 bits of a bitmap slot).
const (
	sectorBitmapNotPresent = 0
	sectorBitmapPresent    = 6
)

// vhdxHeaderStruct mirrors the 4 KiB header structure stored twice in the file
// (at vhdxHeader1Offset and vhdxHeader2Offset); only the current one is
// used after selection. The trailing reserved bytes are kept so the whole
// struct still decodes to exactly 4096 bytes, which matters because the
// Disk2VHD tolerance rule compares the two headers byte-for-byte.
type vhdxHeaderStruct struct {
	Signature      uint32
	Checksum       uint32
	SequenceNumber uint64
	FileWriteGUID  [16]byte
	DataWriteGUID  [16]byte
	LogGUID        [16]byte
	LogVersion     uint16
	Version        uint16
	LogLength      uint32
	LogOffset      uint64
	Reserved       [4016]byte
}

type vhdxRegionTableHeader struct {
	Signature  uint32
	Checksum   uint32
	EntryCount uint32
	Reserved   uint32
}

type vhdxRegionTableEntry struct {
	GUID       uuid.UUID
	FileOffset uint64
	Length     uint32
	DataBits   uint32
}

type vhdxMetadataTableHeader struct {
	Signature  uint64
	Reserved   uint16
	EntryCount uint16
	Reserved2  [5]uint32
}

type vhdxMetadataTableEntry struct {
	ItemID   uuid.UUID
	Offset   uint32
	Length   uint32
	DataBits uint32
	Reserved uint32
}

type vhdxFileParameters struct {
	BlockSize uint32
	DataBits  uint32
}

type vhdxParentLocatorHeader struct {
	LocatorType    uuid.UUID
	Reserved       uint16
	KeyValueCount  uint16
}

type vhdxParentLocatorEntry struct {
	KeyOffset   uint32
	ValueOffset uint32
	KeyLength   uint16
	ValueLength uint16
}

// vhdxRegion is a registered byte range of the file, one per region table
// entry. regionOverlaps checks a range against these; the parse path never
// calls it.
type vhdxRegion struct {
	start, end uint64
}

// VHDX parses the VHDX virtual hard disk format: the current header of two
// redundant copies, the region table, the metadata table, and the Block
// Allocation Table, filtered by payload state.
type VHDX struct {
	file *os.File
	data mmap.MMap

	currHeader int

	batRegion      vhdxRegionTableEntry
	metadataRegion vhdxRegionTableEntry
	regions        []vhdxRegion

	metadataPresent uint32

	fileParameters   vhdxFileParameters
	virtualDiskSize  uint64
	logicalSectorSize uint32
	physicalSectorSize uint32

	blockSize       uint32
	sectorsPerBlock uint32
	chunkRatio      uint64
	chunkRatioBits  uint32

	hasParentLocator bool

	batEntries uint32
	batOffset  uint64
	bat        []uint64
}

var _ Parser = (*VHDX)(nil)

// Open implements Parser.
func (x *VHDX) Open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errIO("vhdx: open failed", err)
	}
	x.file = f

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		x.file = nil
		return errIO("vhdx: mmap failed", err)
	}
	x.data = data

	if err := x.parse(); err != nil {
		x.Close()
		return err
	}
	return nil
}

func (x *VHDX) parse() error {
	if err := x.checkSignature(); err != nil {
		return err
	}
	if err := x.selectHeader(); err != nil {
		return err
	}
	if err := x.parseRegionTable(); err != nil {
		return err
	}
	if err := x.parseMetadata(); err != nil {
		return err
	}
	x.calcBatEntries()
	if uint64(x.batEntries)*8 > uint64(x.batRegion.Length) {
		return errFormat("vhdx: BAT region too small for %d entries", x.batEntries)
	}
	x.batOffset = x.batRegion.FileOffset
	return nil
}

func (x *VHDX) checkSignature() error {
	if len(x.data) < 8 {
		return errFormat("vhdx: file too small for a signature")
	}
	if !bytes.Equal(x.data[:8], []byte(vhdxFileSignature)) {
		return errFormat("vhdx format error: bad file signature")
	}
	return nil
}

// selectHeader reads both redundant headers and picks the current one:
// exactly one valid wins outright; if both are valid, the higher sequence
// number wins; a sequence-number tie is only tolerated when the two 4 KiB
// blobs are byte-identical (the Disk2VHD case).
func (x *VHDX) selectHeader() error {
	blob1, err := binaryio.SliceAt(x.data, vhdxHeader1Offset, vhdxHeaderSize)
	if err != nil {
		return errors.Wrap(err, "vhdx: reading header 1")
	}
	blob2, err := binaryio.SliceAt(x.data, vhdxHeader2Offset, vhdxHeaderSize)
	if err != nil {
		return errors.Wrap(err, "vhdx: reading header 2")
	}

	var h1, h2 vhdxHeaderStruct
	if err := binaryio.StructAt(blob1, 0, binary.LittleEndian, &h1); err != nil {
		return errors.Wrap(err, "vhdx: decoding header 1")
	}
	if err := binaryio.StructAt(blob2, 0, binary.LittleEndian, &h2); err != nil {
		return errors.Wrap(err, "vhdx: decoding header 2")
	}

	h1Valid := h1.Signature == vhdxHeaderSignature && h1.Version == vhdxHeaderVersion
	h2Valid := h2.Signature == vhdxHeaderSignature && h2.Version == vhdxHeaderVersion

	switch {
	case h1Valid && !h2Valid:
		x.currHeader = 0
	case !h1Valid && h2Valid:
		x.currHeader = 1
	case !h1Valid && !h2Valid:
		return errFormat("vhdx format error: no valid header")
	case h1.SequenceNumber > h2.SequenceNumber:
		x.currHeader = 0
	case h2.SequenceNumber > h1.SequenceNumber:
		x.currHeader = 1
	case bytes.Equal(blob1, blob2):
		// Disk2VHD writes two byte-identical headers with equal
		// sequence numbers; that is not corruption.
		x.currHeader = 0
	default:
		return errFormat("vhdx format error: duplicate sequence number, headers differ")
	}
	return nil
}
