package merge

import "sort"

// TranscriptSorted reports whether segs is ascending by StartMs.
func TranscriptSorted(segs []TranscriptSegment) bool {
	for i := 1; i < len(segs); i++ {
		if segs[i].StartMs < segs[i-1].StartMs {
			return false
		}
	}
	return true
}

// DiarizeSorted reports whether segs is ascending by StartMs.
func DiarizeSorted(segs []DiarizeSegment) bool {
	for i := 1; i < len(segs); i++ {
		if segs[i].StartMs < segs[i-1].StartMs {
			return false
		}
	}
	return true
}

// SortDiarize returns a copy of segs stable-sorted by StartMs.
// Segments sharing a start keep their relative order, which preserves the
// earliest-wins tie-break of Merge.
func SortDiarize(segs []DiarizeSegment) []DiarizeSegment {
	out := make([]DiarizeSegment, len(segs))
	copy(out, segs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartMs < out[j].StartMs
	})
	return out
}
