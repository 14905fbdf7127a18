package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxlog/journal-gateway/internal/analysis"
	"github.com/voxlog/journal-gateway/internal/config"
	"github.com/voxlog/journal-gateway/internal/observability"
	"github.com/voxlog/journal-gateway/internal/store"
	"github.com/voxlog/journal-gateway/internal/stt"
	"github.com/voxlog/journal-gateway/internal/transcript"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // auth happens at the edge, not here
	},
}

// wsConn serializes writes to the client connection. The upstream read
// loop and the handler both write to it.
type wsConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (w *wsConn) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteJSON(v)
}

func (w *wsConn) close() {
	w.c.Close()
}

// Handler accepts recording WebSocket connections and drives each one
// through the session lifecycle: upstream connect, audio relay, transcript
// forwarding, and end-of-session analysis.
type Handler struct {
	cfg      *config.Config
	registry *Registry
	analyzer analysis.Analyzer
	store    store.SessionStore // nil disables persistence

	// newClient builds the upstream connection for one session. Swapped
	// in tests.
	newClient func(cfg *config.Config, listener stt.Listener, logger zerolog.Logger) stt.Client
}

func NewHandler(cfg *config.Config, registry *Registry, analyzer analysis.Analyzer, st store.SessionStore) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		analyzer: analyzer,
		store:    st,
		newClient: func(cfg *config.Config, listener stt.Listener, logger zerolog.Logger) stt.Client {
			return stt.NewSonioxClient(cfg, listener, logger)
		},
	}
}

// ServeWS upgrades the request and runs the session to completion.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := observability.GetLogger()
		l.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}

	logger := observability.SessionLogger(sessionID)
	wc := &wsConn{c: conn}

	sess, ok := h.registry.Create(sessionID, userID)
	if !ok {
		logger.Warn().Msg("Rejecting duplicate session ID")
		wc.writeJSON(errorMessage{Type: "error", Message: "session already active"})
		wc.close()
		return
	}

	metrics := observability.NewSessionMetrics(sessionID)
	metrics.RecordSessionStart()
	logger.Info().Str("user_id", userID).Msg("Session connected")

	lis := &upstreamListener{sess: sess, wc: wc, metrics: metrics, logger: logger}
	client := h.newClient(h.cfg, lis, logger)

	if err := client.Connect(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Upstream connect failed")
		metrics.RecordError("upstream_connect", "session")
		wc.writeJSON(errorMessage{Type: "error", Message: "transcription service unavailable"})
		sess.Close()
		h.registry.Remove(sessionID)
		metrics.RecordSessionEnd()
		wc.close()
		return
	}
	sess.BeginStreaming()
	logger.Info().Msg("Upstream connected, streaming")

	h.readLoop(sess, wc, client, metrics, logger)
}

func (h *Handler) readLoop(sess *Session, wc *wsConn, client stt.Client, metrics *observability.Metrics, logger zerolog.Logger) {
	defer wc.close()
	for {
		msgType, data, err := wc.c.ReadMessage()
		if err != nil {
			// Client went away (or the listener closed the socket on a
			// fatal upstream error). Either way the recording is over.
			logger.Info().Err(err).Msg("Client connection closed")
			h.endSession(sess, wc, client, metrics, logger)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(data) == 0 {
				logger.Info().Msg("End-of-audio signal received")
				h.endSession(sess, wc, client, metrics, logger)
				return
			}
			if len(data) > h.cfg.MaxFrameBytes {
				logger.Warn().Int("bytes", len(data)).Msg("Dropping oversized audio frame")
				metrics.RecordFrameDropped("oversized")
				wc.writeJSON(errorMessage{
					Type:    "error",
					Message: fmt.Sprintf("audio frame exceeds %d byte limit", h.cfg.MaxFrameBytes),
				})
				continue
			}
			client.SendAudio(data)
			metrics.RecordAudioBytes(int64(len(data)))

		case websocket.TextMessage:
			logger.Debug().Msg("Ignoring text message on audio stream")
		}
	}
}

// endSession drains the upstream connection, runs analysis on the
// accumulated transcript, sends the single analysis message, and tears the
// session down. Safe to call more than once; only the first call acts.
func (h *Handler) endSession(sess *Session, wc *wsConn, client stt.Client, metrics *observability.Metrics, logger zerolog.Logger) {
	if !sess.BeginEnding() {
		return
	}
	defer func() {
		sess.Close()
		h.registry.Remove(sess.ID)
		metrics.RecordSessionEnd()
		logger.Info().Msg("Session closed")
	}()

	client.StopTranscription()
	client.Disconnect()

	duration := time.Since(sess.StartTime)
	text := strings.TrimSpace(sess.Transcript())

	if text == "" {
		logger.Warn().Msg("Empty transcript, skipping analysis")
		wc.writeJSON(errorMessage{Type: "error", Message: "no speech detected in recording"})
		return
	}
	if len(text) > h.cfg.MaxTranscriptChars {
		logger.Warn().Int("chars", len(text)).Msg("Transcript exceeds analysis limit")
		metrics.RecordError("transcript_too_long", "session")
		wc.writeJSON(errorMessage{Type: "error", Message: "transcript too long to analyze"})
		return
	}

	result := h.analyze(sess, text, duration, metrics, logger)
	if err := wc.writeJSON(analysisMessage{Type: "analysis", Data: result, Words: sess.Words()}); err != nil {
		logger.Error().Err(err).Msg("Failed to deliver analysis")
	}

	h.persist(sess, text, duration, result, logger)
}

// analyze runs the summary and title calls concurrently. Any failure on
// either path degrades to the deterministic fallback so the client always
// receives a well-formed result.
func (h *Handler) analyze(sess *Session, text string, duration time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *analysis.Result {
	metrics.RecordAnalysisStart()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(h.cfg.AnalysisTimeout)*time.Second)
	defer cancel()

	var (
		wg         sync.WaitGroup
		result     *analysis.Result
		title      string
		analyzeErr error
		titleErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		result, analyzeErr = h.analyzer.Analyze(ctx, text, duration)
	}()
	go func() {
		defer wg.Done()
		title, titleErr = h.analyzer.Title(ctx, text)
	}()
	wg.Wait()

	if err := errors.Join(analyzeErr, titleErr); err != nil {
		logger.Warn().Err(err).Msg("Analysis failed, using fallback")
		metrics.RecordError("analysis", "session")
		metrics.RecordAnalysisEnd("fallback")
		return analysis.Fallback(text, sess.PauseTimes())
	}

	result.Title = title
	metrics.RecordAnalysisEnd("success")
	return result
}

func (h *Handler) persist(sess *Session, text string, duration time.Duration, result *analysis.Result, logger zerolog.Logger) {
	if h.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec := &store.Record{
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		Transcript: text,
		Words:      sess.Words(),
		PauseTimes: sess.PauseTimes(),
		StartedAt:  sess.StartTime,
		Duration:   duration,
		Analysis:   result,
	}
	if err := h.store.SaveSession(ctx, rec); err != nil {
		// Persistence is best-effort: the client already has its result.
		logger.Error().Err(err).Msg("Failed to persist session")
	}
}

// upstreamListener bridges recognizer events onto the client connection.
type upstreamListener struct {
	sess    *Session
	wc      *wsConn
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func (l *upstreamListener) OnTranscript(ev stt.TranscriptEvent) {
	text := transcript.CleanText(ev.Text)
	if text == "" {
		return
	}
	if ev.IsFinal {
		if !l.sess.AppendFinal(text) {
			l.logger.Debug().Msg("Suppressing duplicate final delta")
			return
		}
		l.sess.SetWords(ev.Words)
	}
	l.metrics.RecordTranscriptDelta(ev.IsFinal)
	l.wc.writeJSON(transcriptMessage{
		Type:    "transcript",
		Text:    text,
		IsFinal: ev.IsFinal,
		Words:   ev.Words,
	})
}

func (l *upstreamListener) OnEndpoint(pauseSeconds float64) {
	l.sess.AddPause(pauseSeconds)
}

func (l *upstreamListener) OnError(err error) {
	var lost *stt.ConnectionLostError
	var badConfig *stt.ConfigurationError
	switch {
	case errors.As(err, &lost):
		l.logger.Error().Err(err).Msg("Upstream connection lost")
		l.metrics.RecordError("connection_lost", "stt")
		l.wc.writeJSON(errorMessage{Type: "error", Message: "transcription connection lost"})
		// Closing the client socket unblocks the read loop, which then
		// ends the session with whatever transcript we have.
		l.wc.close()
	case errors.As(err, &badConfig):
		l.logger.Error().Err(err).Msg("Upstream configuration rejected")
		l.metrics.RecordError("configuration", "stt")
		l.wc.writeJSON(errorMessage{Type: "error", Message: "transcription service misconfigured"})
		l.wc.close()
	default:
		l.logger.Warn().Err(err).Msg("Recoverable upstream error")
		l.metrics.RecordError("upstream", "stt")
	}
}
