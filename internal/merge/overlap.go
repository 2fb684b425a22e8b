package merge

// OverlapRatio returns the fraction of the transcript interval
// [tStart, tEnd] covered by the diarization interval [dStart, dEnd].
//
// The ratio is normalized by the transcript duration only, so it answers
// "how much of this utterance did the speaker cover", not a symmetric
// similarity. Zero-length transcript intervals always yield 0.
func OverlapRatio(tStart, tEnd, dStart, dEnd int64) float64 {
	overlapStart := max(tStart, dStart)
	overlapEnd := min(tEnd, dEnd)
	if overlapStart >= overlapEnd {
		return 0
	}

	duration := tEnd - tStart
	if duration == 0 {
		return 0
	}
	return float64(overlapEnd-overlapStart) / float64(duration)
}
