package analysis

import (
	"context"
	"time"
)

// Report is the numeric portion of a session analysis.
type Report struct {
	ThinkingIntensity int      `json:"thinkingIntensity"` // 0-100
	PauseTime         float64  `json:"pauseTime"`         // seconds
	CoherenceScore    int      `json:"coherenceScore"`    // 0-100
	MissingPoints     []string `json:"missingPoints"`
}

// Result is the full analysis produced once per session. Immutable after
// creation.
type Result struct {
	Summary          string   `json:"summary"`
	Keywords         []string `json:"keywords"`
	Feedback         string   `json:"feedback"`
	Report           Report   `json:"report"`
	FollowUpQuestion string   `json:"followUpQuestion"`
	Title            string   `json:"title"`
}

// Analyzer produces the end-of-session summary and title from the final
// transcript. Both calls are read-only; failures are handled by the caller
// via the deterministic fallback.
type Analyzer interface {
	// Analyze returns the structured summary/report for a transcript.
	// The returned Result has no Title; the caller merges the Title call.
	Analyze(ctx context.Context, transcript string, duration time.Duration) (*Result, error)

	// Title returns a short (3-6 word) descriptive title in the language
	// of the transcript.
	Title(ctx context.Context, transcript string) (string, error)
}
