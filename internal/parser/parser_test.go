package parser

import (
	"errors"
	"testing"

	"github.com/snarg/scribe-engine/internal/merge"
)

func TestParseWhisper_WhisperCPP(t *testing.T) {
	data := []byte(`{
		"systeminfo": "AVX = 1",
		"transcription": [
			{"timestamps": {"from": "00:00:00,000", "to": "00:00:02,500"}, "offsets": {"from": 0, "to": 2500}, "text": " Olá, bem-vindo"},
			{"offsets": {"from": 2500, "to": 3000}, "text": " [BLANK_AUDIO]"},
			{"offsets": {"from": 3000, "to": 3100}, "text": "   "},
			{"offsets": {"from": 3100}, "text": "sem fim"},
			{"offsets": {"from": 3200, "to": 5800}, "text": "Hoje vamos falar "}
		]
	}`)

	segs, err := ParseWhisper(data)
	if err != nil {
		t.Fatalf("ParseWhisper: %v", err)
	}

	want := []merge.TranscriptSegment{
		{StartMs: 0, EndMs: 2500, Text: "Olá, bem-vindo"},
		{StartMs: 3100, EndMs: 3100, Text: "sem fim"},
		{StartMs: 3200, EndMs: 5800, Text: "Hoje vamos falar"},
	}
	assertTranscript(t, segs, want)
}

func TestParseWhisper_Segments(t *testing.T) {
	data := []byte(`{"text": "a b", "segments": [
		{"id": 0, "start": 0.0, "end": 1.5, "text": " a "},
		{"id": 1, "start": 1.5, "end": 4.25, "text": "b"},
		{"id": 2, "start": 5.0, "text": ""}
	]}`)

	segs, err := ParseWhisper(data)
	if err != nil {
		t.Fatalf("ParseWhisper: %v", err)
	}

	want := []merge.TranscriptSegment{
		{StartMs: 0, EndMs: 1500, Text: "a"},
		{StartMs: 1500, EndMs: 4250, Text: "b"},
	}
	assertTranscript(t, segs, want)
}

func TestParseWhisper_BareList(t *testing.T) {
	data := []byte(`[{"start": 0.5, "end": 1.0, "text": "hello"}, {"start": 2.0, "text": "no end"}]`)

	segs, err := ParseWhisper(data)
	if err != nil {
		t.Fatalf("ParseWhisper: %v", err)
	}

	want := []merge.TranscriptSegment{
		{StartMs: 500, EndMs: 1000, Text: "hello"},
		{StartMs: 2000, EndMs: 2000, Text: "no end"},
	}
	assertTranscript(t, segs, want)
}

func TestParseWhisper_UnknownFormat(t *testing.T) {
	_, err := ParseWhisper([]byte(`{"results": []}`))
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestParseWhisper_TruncatedIsRepaired(t *testing.T) {
	// Output cut off mid-write: closing brackets missing.
	data := []byte(`{"segments": [{"start": 0.0, "end": 1.0, "text": "ok"}`)

	segs, err := ParseWhisper(data)
	if err != nil {
		t.Fatalf("ParseWhisper: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "ok" {
		t.Errorf("expected one repaired segment, got %+v", segs)
	}
}

func TestParseWhisper_WrongType(t *testing.T) {
	_, err := ParseWhisper([]byte(`{"segments": "nope"}`))
	if !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestParseDiarization(t *testing.T) {
	data := []byte(`{
		"uri": "audio.wav",
		"annotation": {
			"uri": "audio.wav",
			"timeline": [],
			"tracks": {
				"SPEAKER_01": [
					{"segment": {"start": 2.5, "end": 5.8}},
					{"label": "orphan"}
				],
				"SPEAKER_00": [
					{"segment": {"start": 0.0, "end": 2.5}},
					{"segment": {"start": 6.0, "end": 7.0}}
				]
			}
		}
	}`)

	segs, err := ParseDiarization(data)
	if err != nil {
		t.Fatalf("ParseDiarization: %v", err)
	}

	want := []merge.DiarizeSegment{
		{StartMs: 0, EndMs: 2500, Speaker: "SPEAKER_00"},
		{StartMs: 2500, EndMs: 5800, Speaker: "SPEAKER_01"},
		{StartMs: 6000, EndMs: 7000, Speaker: "SPEAKER_00"},
	}
	if len(segs) != len(want) {
		t.Fatalf("expected %d segments, got %d: %+v", len(want), len(segs), segs)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Errorf("segment %d: expected %+v, got %+v", i, want[i], segs[i])
		}
	}
}

func TestParseDiarization_DocumentOrder(t *testing.T) {
	// Equal starts keep the order the export lists speakers in, which is
	// what decides the earliest-wins tie in the merge.
	data := []byte(`{"annotation": {"tracks": {
		"SPEAKER_01": [{"segment": {"start": 1.0, "end": 2.0}}],
		"SPEAKER_00": [{"segment": {"start": 1.0, "end": 2.0}}, {"segment": {"start": 0.5, "end": 0.9}}]
	}}}`)

	for i := 0; i < 10; i++ {
		segs, err := ParseDiarization(data)
		if err != nil {
			t.Fatalf("ParseDiarization: %v", err)
		}
		got := []string{segs[0].Speaker, segs[1].Speaker, segs[2].Speaker}
		want := []string{"SPEAKER_00", "SPEAKER_01", "SPEAKER_00"}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("run %d: speakers = %v, want %v", i, got, want)
			}
		}
		if segs[1].StartMs != 1000 {
			t.Fatalf("run %d: segment 1 starts at %d, want 1000", i, segs[1].StartMs)
		}
	}

	merged := merge.Merge([]merge.TranscriptSegment{{StartMs: 1000, EndMs: 2000, Text: "hi"}}, mustDiarize(t, data))
	if merged[0].Speaker != "SPEAKER_01" {
		t.Errorf("tie went to %q, want SPEAKER_01 (listed first)", merged[0].Speaker)
	}
}

func mustDiarize(t *testing.T, data []byte) []merge.DiarizeSegment {
	t.Helper()
	segs, err := ParseDiarization(data)
	if err != nil {
		t.Fatalf("ParseDiarization: %v", err)
	}
	return segs
}

func TestParseRejectsBadTimes(t *testing.T) {
	tests := []struct {
		name    string
		whisper bool
		data    string
		want    error
	}{
		{"segments_null_end", true, `{"segments": [{"start": 1.0, "end": null, "text": "a"}]}`, ErrInvalidJSON},
		{"segments_null_start", true, `[{"start": null, "end": 1.0, "text": "a"}]`, ErrInvalidJSON},
		{"offsets_null_to", true, `{"transcription": [{"offsets": {"from": 0, "to": null}, "text": "a"}]}`, ErrInvalidJSON},
		{"segments_end_before_start", true, `{"segments": [{"start": 2.0, "end": 1.0, "text": "a"}]}`, ErrInvalidSegment},
		{"offsets_negative", true, `{"transcription": [{"offsets": {"from": -10, "to": 5}, "text": "a"}]}`, ErrInvalidSegment},
		{"turn_null_end", false, `{"annotation": {"tracks": {"A": [{"segment": {"start": 1.0, "end": null}}]}}}`, ErrInvalidJSON},
		{"turn_null_segment", false, `{"annotation": {"tracks": {"A": [{"segment": null}]}}}`, ErrInvalidJSON},
		{"turn_end_before_start", false, `{"annotation": {"tracks": {"A": [{"segment": {"start": 3.0, "end": 1.0}}]}}}`, ErrInvalidSegment},
		{"tracks_not_object", false, `{"annotation": {"tracks": []}}`, ErrInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.whisper {
				_, err = ParseWhisper([]byte(tt.data))
			} else {
				_, err = ParseDiarization([]byte(tt.data))
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNativeRoundTrip(t *testing.T) {
	transcript := []merge.TranscriptSegment{
		{StartMs: 1001, EndMs: 2003, Text: " kept as is "},
		{StartMs: 2003, EndMs: 2003, Text: ""},
		{StartMs: 2500, EndMs: 2600, Text: "[BLANK_AUDIO]"},
	}
	diarize := []merge.DiarizeSegment{
		{StartMs: 900, EndMs: 1999, Speaker: "B"},
		{StartMs: 900, EndMs: 1500, Speaker: "A"},
	}

	tData, err := EncodeTranscript(transcript)
	if err != nil {
		t.Fatalf("EncodeTranscript: %v", err)
	}
	gotT, err := ParseWhisper(tData)
	if err != nil {
		t.Fatalf("ParseWhisper: %v", err)
	}
	assertTranscript(t, gotT, transcript)

	dData, err := EncodeDiarization(diarize)
	if err != nil {
		t.Fatalf("EncodeDiarization: %v", err)
	}
	gotD, err := ParseDiarization(dData)
	if err != nil {
		t.Fatalf("ParseDiarization: %v", err)
	}
	if len(gotD) != 2 || gotD[0] != diarize[0] || gotD[1] != diarize[1] {
		t.Errorf("ParseDiarization = %+v, want %+v", gotD, diarize)
	}

	empty, err := EncodeDiarization(nil)
	if err != nil {
		t.Fatal(err)
	}
	if segs, err := ParseDiarization(empty); err != nil || len(segs) != 0 {
		t.Errorf("empty round trip = %+v, %v", segs, err)
	}
}

func TestParseDiarization_NoTracks(t *testing.T) {
	segs, err := ParseDiarization([]byte(`{"annotation": {"uri": "x"}}`))
	if err != nil {
		t.Fatalf("ParseDiarization: %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("expected no segments, got %d", len(segs))
	}
}

func TestParseDiarization_UnknownFormat(t *testing.T) {
	_, err := ParseDiarization([]byte(`{"segments": []}`))
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}

func assertTranscript(t *testing.T, got, want []merge.TranscriptSegment) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d segments, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}
