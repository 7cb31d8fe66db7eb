package vhdregions

// DataArea is an allocated region of a virtual disk's address space, in
// units of 1 MiB. Within any single list produced by this package, areas are
// sorted ascending by Offset and never overlap; Length is always >= 1.
type DataArea struct {
	Offset uint32
	Length uint32
}

// end returns the MiB index one past the last MiB covered by a.
func (a DataArea) end() uint32 { return a.Offset + a.Length }

// Parser is the contract both the VHD and VHDX implementations satisfy.
// Open -> EnumerateAreas -> Close is the only valid call sequence;
// EnumerateAreas is only valid after a successful Open. Close must be safe
// to call more than once, and safe to call on a Parser whose Open returned
// an error partway through.
type Parser interface {
	// Open acquires the backing file and parses the image's structural
	// metadata eagerly. A non-nil error means Open did not complete and has
	// already released what it acquired; Close remains safe to call and is
	// a no-op in that case.
	Open(path string) error

	// Close releases whatever Open acquired. Idempotent.
	Close() error

	// EnumerateAreas returns the image's allocated regions, in ascending,
	// non-overlapping order. Only valid after a successful Open.
	EnumerateAreas() ([]DataArea, error)
}
