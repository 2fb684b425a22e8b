package merge

// Merge assigns a speaker to every transcript segment.
//
// Both inputs must be sorted ascending by StartMs. This is not checked:
// unsorted input never fails, but the scan cursor may skip diarization
// segments a later transcript segment needed, and those segments silently
// lose their speaker. Use TranscriptSorted / DiarizeSorted at the boundary
// when the producer can't be trusted.
//
// The output has exactly one entry per transcript segment, in transcript
// order, with StartMs, EndMs and Text copied verbatim. For each segment the
// diarization segment with the largest OverlapRatio wins; on ties the
// earliest one wins. Segments with no overlap get Unknown.
//
// Runs in O(N+M) for sorted input. Neither input is modified.
func Merge(transcript []TranscriptSegment, diarize []DiarizeSegment) []MergedSegment {
	merged := make([]MergedSegment, 0, len(transcript))
	if len(transcript) == 0 {
		return merged
	}

	if len(diarize) == 0 {
		for _, t := range transcript {
			merged = append(merged, MergedSegment{
				StartMs: t.StartMs,
				EndMs:   t.EndMs,
				Text:    t.Text,
				Speaker: Unknown,
			})
		}
		return merged
	}

	// cursor only moves forward across the whole call. A diarization
	// segment is skipped once it ends before the current transcript
	// segment starts; with sorted input no later transcript segment can
	// overlap it either.
	cursor := 0
	for _, t := range transcript {
		bestSpeaker := Unknown
		bestOverlap := 0.0

		for i := cursor; i < len(diarize); i++ {
			d := diarize[i]
			if d.EndMs < t.StartMs {
				cursor = i + 1
				continue
			}
			// Sorted by start, so everything after begins later too.
			// Don't advance the cursor: the next transcript segment may
			// still overlap this one.
			if d.StartMs > t.EndMs {
				break
			}

			overlap := OverlapRatio(t.StartMs, t.EndMs, d.StartMs, d.EndMs)
			if overlap > bestOverlap {
				bestOverlap = overlap
				bestSpeaker = d.Speaker
			}
		}

		merged = append(merged, MergedSegment{
			StartMs: t.StartMs,
			EndMs:   t.EndMs,
			Text:    t.Text,
			Speaker: bestSpeaker,
		})
	}
	return merged
}
