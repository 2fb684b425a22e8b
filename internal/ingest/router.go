package ingest

import "strings"

// Route kinds.
const (
	KindTranscript = "transcript"
	KindDiarize    = "diarize"
)

// Route describes a parsed MQTT topic.
type Route struct {
	Kind string // "transcript" or "diarize"
	Job  string // job name shared by both halves
}

// ParseTopic maps an MQTT topic string to a Route.
//
// Routing is based entirely on the trailing segments of the topic; the prefix
// is ignored, so any MQTT_TOPICS filter works as long as publishers end their
// topics with the job name and kind:
//
//	.../{job}/transcript → transcript
//	.../{job}/diarize    → diarize
func ParseTopic(topic string) *Route {
	parts := strings.Split(topic, "/")
	n := len(parts)
	if n < 2 {
		return nil
	}

	job := parts[n-2]
	if job == "" || job == "+" || job == "#" {
		return nil
	}

	switch parts[n-1] {
	case KindTranscript, KindDiarize:
		return &Route{Kind: parts[n-1], Job: job}
	}
	return nil
}
