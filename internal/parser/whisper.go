package parser

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/snarg/scribe-engine/internal/merge"
)

const blankAudioMarker = "[BLANK_AUDIO]"

// whisperCPPSegment is one entry of the `whisper-cli -oj` transcription
// array. Offsets are in ms.
type whisperCPPSegment struct {
	Offsets struct {
		From timeValue `json:"from"`
		To   timeValue `json:"to"`
	} `json:"offsets"`
	Text string `json:"text"`
}

// secondsSegment is the OpenAI-style segment layout. Times are in seconds.
type secondsSegment struct {
	Start timeValue `json:"start"`
	End   timeValue `json:"end"`
	Text  string    `json:"text"`
}

// ParseWhisper parses transcription output in any of the layouts produced
// by whisper.cpp or OpenAI-compatible servers, plus NativeFormat:
//
//	{"transcription": [{"offsets": {"from": ms, "to": ms}, "text": ...}]}
//	{"segments": [{"start": sec, "end": sec, "text": ...}]}
//	[{"start": sec, "end": sec, "text": ...}]
//
// Text is trimmed and empty segments are dropped, as are whisper.cpp
// [BLANK_AUDIO] placeholders. A missing end defaults to the start; a null
// one is an error. Segment order is kept as produced.
func ParseWhisper(data []byte) ([]merge.TranscriptSegment, error) {
	segs, err := parseWhisper(bytes.TrimSpace(data))
	if err != nil {
		return nil, err
	}
	if err := CheckTranscript(segs); err != nil {
		return nil, err
	}
	return segs, nil
}

func parseWhisper(data []byte) ([]merge.TranscriptSegment, error) {
	if len(data) > 0 && data[0] == '[' {
		var list []secondsSegment
		if err := unmarshalJSON(data, &list); err != nil {
			return nil, err
		}
		return fromSeconds(list), nil
	}

	var probe map[string]json.RawMessage
	if err := unmarshalJSON(data, &probe); err != nil {
		return nil, err
	}

	if isNative(probe) {
		var doc nativeTranscript
		if err := unmarshalJSON(data, &doc); err != nil {
			return nil, err
		}
		if doc.Segments == nil {
			doc.Segments = []merge.TranscriptSegment{}
		}
		return doc.Segments, nil
	}

	if raw, ok := probe["transcription"]; ok {
		var list []whisperCPPSegment
		if err := unmarshalJSON(raw, &list); err != nil {
			return nil, err
		}
		segs := make([]merge.TranscriptSegment, 0, len(list))
		for _, s := range list {
			text := strings.TrimSpace(s.Text)
			if text == "" || strings.HasPrefix(text, blankAudioMarker) {
				continue
			}
			start := s.Offsets.From.or(0)
			segs = append(segs, merge.TranscriptSegment{
				StartMs: int64(start),
				EndMs:   int64(s.Offsets.To.or(start)),
				Text:    text,
			})
		}
		return segs, nil
	}

	if raw, ok := probe["segments"]; ok {
		var list []secondsSegment
		if err := unmarshalJSON(raw, &list); err != nil {
			return nil, err
		}
		return fromSeconds(list), nil
	}

	return nil, ErrUnknownFormat
}

func fromSeconds(list []secondsSegment) []merge.TranscriptSegment {
	segs := make([]merge.TranscriptSegment, 0, len(list))
	for _, s := range list {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		start := s.Start.or(0)
		segs = append(segs, merge.TranscriptSegment{
			StartMs: secondsToMs(start),
			EndMs:   secondsToMs(s.End.or(start)),
			Text:    text,
		})
	}
	return segs
}
