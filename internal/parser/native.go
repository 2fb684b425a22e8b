package parser

import (
	"encoding/json"
	"fmt"

	"github.com/snarg/scribe-engine/internal/merge"
)

// NativeFormat tags documents written by EncodeTranscript and
// EncodeDiarization. Times are in ms and segments are stored exactly as
// submitted, so nothing is trimmed, dropped or re-rounded on the way back.
const NativeFormat = "scribe-segments/v1"

type nativeTranscript struct {
	Format   string                    `json:"format"`
	Segments []merge.TranscriptSegment `json:"segments"`
}

type nativeDiarization struct {
	Format   string                 `json:"format"`
	Segments []merge.DiarizeSegment `json:"segments"`
}

// EncodeTranscript serializes segments in a form ParseWhisper reads back
// unchanged.
func EncodeTranscript(segs []merge.TranscriptSegment) ([]byte, error) {
	if segs == nil {
		segs = []merge.TranscriptSegment{}
	}
	data, err := json.Marshal(nativeTranscript{Format: NativeFormat, Segments: segs})
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return data, nil
}

// EncodeDiarization serializes segments in a form ParseDiarization reads
// back unchanged.
func EncodeDiarization(segs []merge.DiarizeSegment) ([]byte, error) {
	if segs == nil {
		segs = []merge.DiarizeSegment{}
	}
	data, err := json.Marshal(nativeDiarization{Format: NativeFormat, Segments: segs})
	if err != nil {
		return nil, fmt.Errorf("encode diarization: %w", err)
	}
	return data, nil
}

// isNative reports whether a probed top-level object carries NativeFormat.
func isNative(probe map[string]json.RawMessage) bool {
	raw, ok := probe["format"]
	if !ok {
		return false
	}
	var f string
	return json.Unmarshal(raw, &f) == nil && f == NativeFormat
}
