package merge

// Summary describes a merged transcript.
type Summary struct {
	Segments   int              `json:"segments"`
	Unknown    int              `json:"unknown"`
	Speakers   []string         `json:"speakers"`
	TalkTimeMs map[string]int64 `json:"talk_time_ms"`
}

// Stats summarizes merged segments. Speakers are listed in order of first
// appearance and exclude Unknown; TalkTimeMs includes it.
func Stats(merged []MergedSegment) Summary {
	s := Summary{
		Segments:   len(merged),
		Speakers:   []string{},
		TalkTimeMs: make(map[string]int64),
	}
	seen := make(map[string]bool)
	for _, m := range merged {
		if m.Speaker == Unknown {
			s.Unknown++
		} else if !seen[m.Speaker] {
			seen[m.Speaker] = true
			s.Speakers = append(s.Speakers, m.Speaker)
		}
		if d := m.EndMs - m.StartMs; d > 0 {
			s.TalkTimeMs[m.Speaker] += d
		}
	}
	return s
}
