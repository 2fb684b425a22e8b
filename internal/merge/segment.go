// Package merge aligns transcription segments with diarization segments,
// producing one speaker-attributed segment per transcribed utterance.
package merge

// Unknown is the speaker assigned when no diarization segment overlaps a
// transcript segment.
const Unknown = "UNKNOWN"

// TranscriptSegment is one utterance span from the transcription engine.
type TranscriptSegment struct {
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// DiarizeSegment is one speaker turn from the diarization engine.
// Speaker is an opaque label such as "SPEAKER_00".
type DiarizeSegment struct {
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Speaker string `json:"speaker"`
}

// MergedSegment is a transcript segment with its attributed speaker.
type MergedSegment struct {
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}
