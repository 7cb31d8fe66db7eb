package vhdregions

import (
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestVHDXStructSizes(t *testing.T) {
	tests := map[any]int{
		vhdxHeaderStruct{}:       4096,
		vhdxRegionTableHeader{}:  16,
		vhdxRegionTableEntry{}:   32,
		vhdxMetadataTableHeader{}: 32,
		vhdxMetadataTableEntry{}: 32,
		vhdxParentLocatorEntry{}: 12,
	}
	for v, want := range tests {
		rt := reflect.TypeOf(v)
		if got := binary.Size(v); got != want {
			t.Errorf("%s: binary.Size = %d, want %d", rt.Name(), got, want)
		}
	}
}

func TestVHDXBatEnumeration(t *testing.T) {
	// chunk_ratio=2, block_size=1 MiB: slots alternate 2 payload then 1
	// bitmap. i=0,1 payload (states 6,7 -> emit both); i=2 bitmap (ignored
	// regardless of value); i=3,4 payload (states 0,3 -> neither emits).
	x := VHDX{
		batEntries: 5,
		chunkRatio: 2,
		blockSize:  mib,
		bat:        []uint64{6, 7, 6, 0, 3},
	}

	areas, err := x.EnumerateAreas()
	if err != nil {
		t.Fatalf("EnumerateAreas: %v", err)
	}
	want := []DataArea{{Offset: 0, Length: 1}, {Offset: 1, Length: 1}}
	if diff := cmp.Diff(want, areas); diff != "" {
		t.Errorf("areas mismatch (-want +got):\n%s", diff)
	}
}

func TestVHDXBatEnumerationNoPresentEntries(t *testing.T) {
	x := VHDX{
		batEntries: 3,
		chunkRatio: 4,
		blockSize:  2 * mib,
		bat:        []uint64{payloadZero, payloadUndefined, payloadUnmapped},
	}

	areas, err := x.EnumerateAreas()
	if err != nil {
		t.Fatalf("EnumerateAreas: %v", err)
	}
	if len(areas) != 0 {
		t.Errorf("expected no areas, got %v", areas)
	}
}

func TestVHDXSelectHeaderPrefersHigherSequence(t *testing.T) {
	blob1 := make([]byte, vhdxHeaderSize)
	blob2 := make([]byte, vhdxHeaderSize)

	h1 := vhdxHeaderStruct{Signature: vhdxHeaderSignature, Version: vhdxHeaderVersion, SequenceNumber: 1}
	h2 := vhdxHeaderStruct{Signature: vhdxHeaderSignature, Version: vhdxHeaderVersion, SequenceNumber: 2}
	if err := binaryEncode(blob1, binary.LittleEndian, &h1); err != nil {
		t.Fatalf("encoding header 1: %v", err)
	}
	if err := binaryEncode(blob2, binary.LittleEndian, &h2); err != nil {
		t.Fatalf("encoding header 2: %v", err)
	}

	data := make([]byte, vhdxRegionTableOffset+vhdxHeaderBlockSize)
	copy(data[vhdxHeader1Offset:], blob1)
	copy(data[vhdxHeader2Offset:], blob2)

	x := VHDX{data: data}
	if err := x.selectHeader(); err != nil {
		t.Fatalf("selectHeader: %v", err)
	}
	if x.currHeader != 1 {
		t.Errorf("currHeader = %d, want 1 (higher sequence number)", x.currHeader)
	}
}

func TestVHDXSelectHeaderToleratesDuplicateIdenticalHeaders(t *testing.T) {
	blob := make([]byte, vhdxHeaderSize)
	h := vhdxHeaderStruct{Signature: vhdxHeaderSignature, Version: vhdxHeaderVersion, SequenceNumber: 7}
	if err := binaryEncode(blob, binary.LittleEndian, &h); err != nil {
		t.Fatalf("encoding header: %v", err)
	}

	data := make([]byte, vhdxRegionTableOffset+vhdxHeaderBlockSize)
	copy(data[vhdxHeader1Offset:], blob)
	copy(data[vhdxHeader2Offset:], blob)

	x := VHDX{data: data}
	if err := x.selectHeader(); err != nil {
		t.Fatalf("selectHeader on Disk2VHD-style duplicate headers: %v", err)
	}
	if x.currHeader != 0 {
		t.Errorf("currHeader = %d, want 0", x.currHeader)
	}
}

func TestVHDXSelectHeaderRejectsDuplicateSequenceDifferingHeaders(t *testing.T) {
	blob1 := make([]byte, vhdxHeaderSize)
	blob2 := make([]byte, vhdxHeaderSize)
	h1 := vhdxHeaderStruct{Signature: vhdxHeaderSignature, Version: vhdxHeaderVersion, SequenceNumber: 7, LogLength: 1}
	h2 := vhdxHeaderStruct{Signature: vhdxHeaderSignature, Version: vhdxHeaderVersion, SequenceNumber: 7, LogLength: 2}
	if err := binaryEncode(blob1, binary.LittleEndian, &h1); err != nil {
		t.Fatalf("encoding header 1: %v", err)
	}
	if err := binaryEncode(blob2, binary.LittleEndian, &h2); err != nil {
		t.Fatalf("encoding header 2: %v", err)
	}

	data := make([]byte, vhdxRegionTableOffset+vhdxHeaderBlockSize)
	copy(data[vhdxHeader1Offset:], blob1)
	copy(data[vhdxHeader2Offset:], blob2)

	x := VHDX{data: data}
	if err := x.selectHeader(); err == nil {
		t.Fatal("expected selectHeader to reject duplicate sequence numbers on differing headers")
	}
}

func TestVHDXCalcBatEntriesNonDifferencing(t *testing.T) {
	x := VHDX{
		virtualDiskSize: 10 * mib,
		blockSize:       4 * mib,
		chunkRatio:      8,
		chunkRatioBits:  3,
	}
	x.calcBatEntries()
	// dataBlocksCnt = ceil(10/4) = 3; batEntries = 3 + ((3-1)>>3) = 3 + 0 = 3
	if x.batEntries != 3 {
		t.Errorf("batEntries = %d, want 3", x.batEntries)
	}
}

func TestVHDXCalcBatEntriesDifferencing(t *testing.T) {
	x := VHDX{
		virtualDiskSize:  10 * mib,
		blockSize:        4 * mib,
		chunkRatio:       8,
		chunkRatioBits:   3,
		hasParentLocator: true,
	}
	x.calcBatEntries()
	// dataBlocksCnt = 3; bitmapBlocksCnt = ceil(3/8) = 1; batEntries = 1*(8+1) = 9
	if x.batEntries != 9 {
		t.Errorf("batEntries = %d, want 9", x.batEntries)
	}
}
