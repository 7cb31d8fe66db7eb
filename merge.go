package vhdregions

// alignAreas splits every entry of areas into unit-length sub-entries of
// exactly unit MiB, assuming every entry's length is a multiple of unit.
// The split loop only ever runs when the *first* entry's length divides
// evenly by unit; if it doesn't, the whole list is returned unaligned
// rather than every entry being checked individually. That is very likely
// not what a correct implementation intends, but it is what this format's
// reader has always done, so it is preserved rather than silently "fixed".
func alignAreas(areas []DataArea, unit uint32) ([]DataArea, error) {
	if unit < 1 || unit > 256 {
		return nil, errUnsupported("unsupported len")
	}
	if len(areas) == 0 {
		return areas, nil
	}
	if areas[0].Length%unit != 0 {
		return areas, nil
	}

	aligned := make([]DataArea, 0, len(areas))
	for _, a := range areas {
		for off := a.Offset; off < a.end(); off += unit {
			aligned = append(aligned, DataArea{Offset: off, Length: unit})
		}
	}
	return aligned, nil
}

// unionAreas merges two sorted, aligned, same-unit-length area lists by
// offset. Equal offsets emit once, taking b's copy: on a tie, the running
// merged set's copy always wins.
func unionAreas(a, b []DataArea) []DataArea {
	out := make([]DataArea, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Offset < b[j].Offset:
			out = append(out, a[i])
			i++
		case a[i].Offset > b[j].Offset:
			out = append(out, b[j])
			j++
		default:
			out = append(out, b[j])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// coalesceAreas fuses adjacent entries in a single left-to-right pass: any
// pair a, b with a.Offset+a.Length == b.Offset becomes one area.
func coalesceAreas(areas []DataArea) []DataArea {
	if len(areas) == 0 {
		return areas
	}
	out := make([]DataArea, 0, len(areas))
	cur := areas[0]
	for _, next := range areas[1:] {
		if cur.end() == next.Offset {
			cur.Length += next.Length
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

// MergeChain drives parser over each of paths in order, opening,
// enumerating, and closing it, and returns the coalesced union of their
// allocated areas, normalized to the smallest unit length seen across the
// chain. A typical call passes paths in parent-to-child order for a backup
// chain, though the algorithm itself is order-insensitive except for which
// image first establishes the running unit length.
func MergeChain(parser Parser, paths []string) ([]DataArea, error) {
	var merged []DataArea
	var unit uint32

	for _, path := range paths {
		if err := parser.Open(path); err != nil {
			return nil, err
		}
		current, err := parser.EnumerateAreas()
		if err != nil {
			parser.Close()
			return nil, err
		}
		if err := parser.Close(); err != nil {
			return nil, err
		}

		if len(current) == 0 {
			continue
		}
		u := current[0].Length

		switch {
		case unit == 0:
			unit = u
			merged = current
		case u > unit:
			aligned, err := alignAreas(current, unit)
			if err != nil {
				return nil, err
			}
			merged = unionAreas(aligned, merged)
		case u < unit:
			unit = u
			aligned, err := alignAreas(merged, unit)
			if err != nil {
				return nil, err
			}
			merged = unionAreas(current, aligned)
		default:
			merged = unionAreas(current, merged)
		}
	}

	return coalesceAreas(merged), nil
}
