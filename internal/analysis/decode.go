package analysis

import (
	"encoding/json"
	"math"
)

const defaultScore = 50

// decodeResult parses a model response into a Result, defaulting each field
// independently. A partially malformed reply (missing key, wrong type)
// still yields a usable analysis instead of discarding the whole object.
func decodeResult(data []byte, transcript string) *Result {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		raw = nil
	}

	var rawReport map[string]json.RawMessage
	if r, ok := raw["report"]; ok {
		_ = json.Unmarshal(r, &rawReport)
	}

	return &Result{
		Summary:  stringField(raw, "summary", transcript),
		Keywords: stringSliceField(raw, "keywords"),
		Feedback: stringField(raw, "feedback", "Thanks for recording this entry."),
		Report: Report{
			ThinkingIntensity: scoreField(rawReport, "thinkingIntensity"),
			PauseTime:         numberField(rawReport, "pauseTime"),
			CoherenceScore:    scoreField(rawReport, "coherenceScore"),
			MissingPoints:     stringSliceField(rawReport, "missingPoints"),
		},
		FollowUpQuestion: stringField(raw, "followUpQuestion", "What else is on your mind?"),
	}
}

func stringField(raw map[string]json.RawMessage, key, def string) string {
	if v, ok := raw[key]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			return s
		}
	}
	return def
}

func stringSliceField(raw map[string]json.RawMessage, key string) []string {
	if v, ok := raw[key]; ok {
		var items []string
		if err := json.Unmarshal(v, &items); err == nil && items != nil {
			return items
		}
	}
	return []string{}
}

// scoreField reads a 0-100 score, clamping out-of-range values and
// defaulting anything unparseable.
func scoreField(raw map[string]json.RawMessage, key string) int {
	if v, ok := raw[key]; ok {
		var n float64
		if err := json.Unmarshal(v, &n); err == nil {
			return int(math.Min(100, math.Max(0, math.Round(n))))
		}
	}
	return defaultScore
}

func numberField(raw map[string]json.RawMessage, key string) float64 {
	if v, ok := raw[key]; ok {
		var n float64
		if err := json.Unmarshal(v, &n); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}
