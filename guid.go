package vhdregions

import "github.com/google/uuid"

// diskGUID converts the canonical (RFC 4122 string) form of a Microsoft
// GUID into the byte order Windows actually writes to disk: the first three
// fields (a uint32 and two uint16s) are little-endian, while the trailing
// 8 bytes are written as-is. uuid.UUID always stores all sixteen bytes in
// the same order the canonical string renders them (network/big-endian for
// every field), so this flips the first three fields once, at package
// init, rather than on every comparison against a BAT or metadata entry.
// Once converted, a disk GUID is compared against bytes read straight off
// the image with no further byte-swapping, exactly the raw 16-byte memcmp
// the VHDX format itself relies on.
func diskGUID(canonical string) uuid.UUID {
	u := uuid.MustParse(canonical)
	var d uuid.UUID
	d[0], d[1], d[2], d[3] = u[3], u[2], u[1], u[0]
	d[4], d[5] = u[5], u[4]
	d[6], d[7] = u[7], u[6]
	copy(d[8:], u[8:])
	return d
}

// canonicalGUIDString reverses diskGUID, for rendering an on-disk GUID in
// logs using the form Microsoft documentation and tooling use.
func canonicalGUIDString(disk uuid.UUID) string {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = disk[3], disk[2], disk[1], disk[0]
	u[4], u[5] = disk[5], disk[4]
	u[6], u[7] = disk[7], disk[6]
	copy(u[8:], disk[8:])
	return u.String()
}

// Known VHDX region table GUIDs.
var (
	vhdxRegionBAT      = diskGUID("2dc27766-f623-4200-9d64-115e9bfd4a08")
	vhdxRegionMetadata = diskGUID("8b7ca206-4790-4b9a-b8fe-575f050f886e")
)

// Known VHDX metadata table GUIDs, and the presence bit each is tracked
// under in metadataPresence.
var (
	vhdxMetaFileParameters    = diskGUID("caa16737-fa36-4d43-b3b6-33f0aa44e76b")
	vhdxMetaVirtualDiskSize   = diskGUID("2fa54224-cd1b-4876-b211-5dbed83bf4b8")
	vhdxMetaPage83            = diskGUID("beca12ab-b2e6-4523-93ef-c309e000c746")
	vhdxMetaLogicalSectorSize = diskGUID("8141bf1d-a96f-4709-ba47-f233a8faab5f")
	vhdxMetaPhysSectorSize    = diskGUID("cda348c7-445d-4471-9cc9-e9885251c556")
	vhdxMetaParentLocator     = diskGUID("a8d35f2d-b30b-454d-abf7-d3d83848ab0c")
)

// vhdxParentLocatorTypeVHDX identifies a parent-locator block whose entries
// describe another VHDX file (as opposed to some other virtualization
// product's own locator scheme).
var vhdxParentLocatorTypeVHDX = diskGUID("b04aefb7-d19e-4a81-b789-25b8e9445913")

const (
	metaPresentFileParameters    = 0x01
	metaPresentVirtualDiskSize   = 0x02
	metaPresentPage83            = 0x04
	metaPresentLogicalSectorSize = 0x08
	metaPresentPhysSectorSize    = 0x10
	metaPresentParentLocator     = 0x20
)
