package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/snarg/scribe-engine/internal/merge"
)

// pyannoteOutput is the annotation export written by the diarization
// runner: tracks map each speaker label to its turns, times in seconds.
// Tracks stay raw so speakers can be read in document order.
type pyannoteOutput struct {
	Annotation *struct {
		Tracks json.RawMessage `json:"tracks"`
	} `json:"annotation"`
}

type trackItem struct {
	Segment json.RawMessage `json:"segment"`
}

type turnSeconds struct {
	Start timeValue `json:"start"`
	End   timeValue `json:"end"`
}

// ParseDiarization parses a pyannote annotation export (or NativeFormat)
// into diarization segments sorted by start time. Speakers are visited in
// the order the export lists them and the sort is stable, so equal-start
// turns keep that order. Items without a segment are skipped.
func ParseDiarization(data []byte) ([]merge.DiarizeSegment, error) {
	segs, err := parseDiarization(bytes.TrimSpace(data))
	if err != nil {
		return nil, err
	}
	if err := CheckDiarization(segs); err != nil {
		return nil, err
	}
	sort.SliceStable(segs, func(i, j int) bool {
		return segs[i].StartMs < segs[j].StartMs
	})
	return segs, nil
}

func parseDiarization(data []byte) ([]merge.DiarizeSegment, error) {
	var probe map[string]json.RawMessage
	if err := unmarshalJSON(data, &probe); err != nil {
		return nil, err
	}
	if isNative(probe) {
		var doc nativeDiarization
		if err := unmarshalJSON(data, &doc); err != nil {
			return nil, err
		}
		if doc.Segments == nil {
			doc.Segments = []merge.DiarizeSegment{}
		}
		return doc.Segments, nil
	}

	var out pyannoteOutput
	if err := unmarshalJSON(data, &out); err != nil {
		return nil, err
	}
	if out.Annotation == nil {
		return nil, ErrUnknownFormat
	}
	segs := []merge.DiarizeSegment{}
	tracks := bytes.TrimSpace(out.Annotation.Tracks)
	if len(tracks) == 0 || bytes.Equal(tracks, []byte("null")) {
		return segs, nil
	}

	err := walkTracks(tracks, func(speaker string, items []trackItem) error {
		for _, item := range items {
			if len(item.Segment) == 0 {
				continue
			}
			if string(bytes.TrimSpace(item.Segment)) == "null" {
				return errNullTime
			}
			var turn turnSeconds
			if err := json.Unmarshal(item.Segment, &turn); err != nil {
				return err
			}
			start := turn.Start.or(0)
			segs = append(segs, merge.DiarizeSegment{
				StartMs: secondsToMs(start),
				EndMs:   secondsToMs(turn.End.or(start)),
				Speaker: speaker,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: tracks: %v", ErrInvalidJSON, err)
	}
	return segs, nil
}

// walkTracks calls fn for each speaker of a tracks object in document order.
// encoding/json maps lose key order, so the object is read token by token.
func walkTracks(tracks []byte, fn func(speaker string, items []trackItem) error) error {
	dec := json.NewDecoder(bytes.NewReader(tracks))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("tracks is not an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		speaker, _ := tok.(string)
		var items []trackItem
		if err := dec.Decode(&items); err != nil {
			return fmt.Errorf("speaker %q: %w", speaker, err)
		}
		if err := fn(speaker, items); err != nil {
			return fmt.Errorf("speaker %q: %w", speaker, err)
		}
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
