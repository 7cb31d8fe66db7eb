package vhdregions

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCoalesceAreas(t *testing.T) {
	in := []DataArea{{0, 2}, {2, 2}, {6, 2}, {8, 1}, {20, 5}}
	want := []DataArea{{0, 4}, {6, 3}, {20, 5}}
	if diff := cmp.Diff(want, coalesceAreas(in)); diff != "" {
		t.Errorf("coalesceAreas mismatch (-want +got):\n%s", diff)
	}
}

func TestUnionAreasPrefersSecondListOnTie(t *testing.T) {
	a := []DataArea{{0, 2}, {4, 2}}
	b := []DataArea{{0, 4}, {8, 2}}
	want := []DataArea{{0, 4}, {4, 2}, {8, 2}}
	if diff := cmp.Diff(want, unionAreas(a, b)); diff != "" {
		t.Errorf("unionAreas mismatch (-want +got):\n%s", diff)
	}
}

func TestAlignAreasSplitsWhenFirstEntryDivides(t *testing.T) {
	in := []DataArea{{0, 4}, {8, 2}}
	want := []DataArea{{0, 2}, {2, 2}, {8, 2}}
	got, err := alignAreas(in, 2)
	if err != nil {
		t.Fatalf("alignAreas: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("alignAreas mismatch (-want +got):\n%s", diff)
	}
}

// TestAlignAreasGuardSkipsWholeListWhenFirstEntryDoesNotDivide documents the
// preserved quirk: the split loop only ever checks the first entry's
// length. A later entry's length not dividing evenly is never caught, and a
// first entry not dividing evenly skips alignment for the whole list, even
// when every later entry would have divided cleanly.
func TestAlignAreasGuardSkipsWholeListWhenFirstEntryDoesNotDivide(t *testing.T) {
	in := []DataArea{{0, 3}, {8, 2}}
	got, err := alignAreas(in, 2)
	if err != nil {
		t.Fatalf("alignAreas: %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("expected list to pass through unaligned (-want +got):\n%s", diff)
	}
}

// pathAwareFakeParser lets MergeChain's per-path Open/EnumerateAreas/Close
// sequence drive a canned response per path, without touching the
// filesystem.
type pathAwareFakeParser struct {
	areas   map[string][]DataArea
	current string
}

func (f *pathAwareFakeParser) Open(path string) error {
	f.current = path
	return nil
}
func (f *pathAwareFakeParser) Close() error { return nil }
func (f *pathAwareFakeParser) EnumerateAreas() ([]DataArea, error) {
	return f.areas[f.current], nil
}

func TestMergeChainUnifiesAndCoalesces(t *testing.T) {
	parser := &pathAwareFakeParser{
		areas: map[string][]DataArea{
			"base.vhd": {{Offset: 0, Length: 2}, {Offset: 4, Length: 2}},
			"diff.vhd": {{Offset: 2, Length: 2}, {Offset: 8, Length: 2}},
		},
	}

	got, err := MergeChain(parser, []string{"base.vhd", "diff.vhd"})
	if err != nil {
		t.Fatalf("MergeChain: %v", err)
	}
	want := []DataArea{{Offset: 0, Length: 6}, {Offset: 8, Length: 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MergeChain mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeChainSkipsEmptyImages(t *testing.T) {
	parser := &pathAwareFakeParser{
		areas: map[string][]DataArea{
			"empty.vhd": nil,
			"data.vhd":  {{Offset: 0, Length: 1}},
		},
	}

	got, err := MergeChain(parser, []string{"empty.vhd", "data.vhd"})
	if err != nil {
		t.Fatalf("MergeChain: %v", err)
	}
	want := []DataArea{{Offset: 0, Length: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MergeChain mismatch (-want +got):\n%s", diff)
	}
}
