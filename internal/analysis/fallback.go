package analysis

import "math"

// Fallback builds the deterministic local analysis used when the model
// service fails or times out. Every session that ends with a valid
// transcript gets some analysis, even in total dependency failure.
func Fallback(transcript string, pauseTimes []float64) *Result {
	var totalPause float64
	for _, p := range pauseTimes {
		totalPause += p
	}

	return &Result{
		Summary:  transcript,
		Keywords: []string{},
		Feedback: "Analysis is temporarily unavailable, but your entry was saved.",
		Report: Report{
			ThinkingIntensity: defaultScore,
			PauseTime:         math.Round(totalPause),
			CoherenceScore:    defaultScore,
			MissingPoints:     []string{},
		},
		FollowUpQuestion: "What else would you like to reflect on?",
		Title:            "Journal Entry",
	}
}
