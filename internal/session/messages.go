package session

import (
	"github.com/voxlog/journal-gateway/internal/analysis"
	"github.com/voxlog/journal-gateway/internal/transcript"
)

// Outbound messages to the recording client, discriminated by Type.

type transcriptMessage struct {
	Type    string            `json:"type"` // "transcript"
	Text    string            `json:"text"`
	IsFinal bool              `json:"isFinal"`
	Words   []transcript.Word `json:"words,omitempty"` // final deltas only
}

type analysisMessage struct {
	Type  string            `json:"type"` // "analysis"
	Data  *analysis.Result  `json:"data"`
	Words []transcript.Word `json:"words"`
}

type errorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}
