package stt

import (
	"context"

	"github.com/voxlog/journal-gateway/internal/transcript"
)

// TranscriptEvent is one transcript update from the upstream recognizer.
type TranscriptEvent struct {
	// Text is the newly finalized delta for final events, or the full
	// preview (accumulated final transcript plus the provisional tail)
	// for non-final events.
	Text string

	// IsFinal reports whether Text is committed upstream output.
	IsFinal bool

	// Words holds every merged word finalized so far. Present only on
	// final events.
	Words []transcript.Word
}

// Listener receives events from an upstream transcription connection.
// Implementations must not block: events are delivered from the
// connection's read loop.
type Listener interface {
	// OnTranscript is invoked for every final or non-final transcript
	// delta received from upstream.
	OnTranscript(ev TranscriptEvent)

	// OnEndpoint is invoked when the upstream endpoint detector flags a
	// pause, with the measured trailing silence in seconds.
	OnEndpoint(pauseSeconds float64)

	// OnError is invoked for upstream failures. Fatal errors
	// (ConfigurationError, ConnectionLostError) end the session; other
	// errors are informational.
	OnError(err error)
}

// Client manages one connection to the upstream realtime recognizer for a
// single recording session.
type Client interface {
	// Connect opens the connection and performs the configuration
	// handshake. It fails fast on configuration problems and after the
	// handshake timeout.
	Connect(ctx context.Context) error

	// SendAudio forwards one binary audio frame as-is. Failures are
	// reported through the listener, never returned: audio arrives on a
	// hot path that must not be interrupted by a single failed send.
	SendAudio(frame []byte)

	// StopTranscription signals end-of-audio to upstream (a zero-length
	// frame), letting it flush pending finalization. The connection
	// stays open for the flushed tokens.
	StopTranscription()

	// Disconnect tears the connection down. Idempotent.
	Disconnect()
}
