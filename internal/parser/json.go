// Package parser converts raw output from the transcription and
// diarization tools into merge segments.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
	"github.com/snarg/scribe-engine/internal/merge"
)

var (
	// ErrUnknownFormat is returned when the JSON is valid but none of the
	// supported layouts match.
	ErrUnknownFormat = errors.New("unrecognized tool output format")

	// ErrInvalidJSON is returned when the payload can't be decoded even
	// after repair.
	ErrInvalidJSON = errors.New("invalid tool output JSON")

	// ErrInvalidSegment is returned when a decoded segment has a negative
	// start, ends before it starts, or (diarization) has no speaker.
	ErrInvalidSegment = errors.New("invalid segment")

	errNullTime = errors.New("timestamp is null")
)

// unmarshalJSON decodes data into v. Tool output truncated mid-write
// (killed process, full disk) is a syntax error, so it gets one repair pass
// before giving up.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	fixed, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := json.Unmarshal([]byte(fixed), v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// secondsToMs truncates like the upstream tools' own int(sec*1000).
func secondsToMs(sec float64) int64 {
	return int64(sec * 1000)
}

// timeValue is a timestamp field that may be absent. An explicit null is an
// error rather than a zero, matching the tools' own readers.
type timeValue struct {
	v   float64
	set bool
}

func (t *timeValue) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return errNullTime
	}
	if err := json.Unmarshal(b, &t.v); err != nil {
		return err
	}
	t.set = true
	return nil
}

// or returns the value, or def when the field was absent.
func (t timeValue) or(def float64) float64 {
	if t.set {
		return t.v
	}
	return def
}

func checkInterval(i int, start, end int64) error {
	if start < 0 {
		return fmt.Errorf("%w: segment %d: start_ms %d is negative", ErrInvalidSegment, i, start)
	}
	if end < start {
		return fmt.Errorf("%w: segment %d: end_ms %d before start_ms %d", ErrInvalidSegment, i, end, start)
	}
	return nil
}

// CheckTranscript reports the first segment with an invalid interval.
func CheckTranscript(segs []merge.TranscriptSegment) error {
	for i, s := range segs {
		if err := checkInterval(i, s.StartMs, s.EndMs); err != nil {
			return err
		}
	}
	return nil
}

// CheckDiarization is CheckTranscript plus a non-empty speaker label.
func CheckDiarization(segs []merge.DiarizeSegment) error {
	for i, s := range segs {
		if err := checkInterval(i, s.StartMs, s.EndMs); err != nil {
			return err
		}
		if s.Speaker == "" {
			return fmt.Errorf("%w: segment %d: speaker is empty", ErrInvalidSegment, i)
		}
	}
	return nil
}
