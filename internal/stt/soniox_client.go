package stt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxlog/journal-gateway/internal/config"
	"github.com/voxlog/journal-gateway/internal/observability"
	"github.com/voxlog/journal-gateway/internal/resilience"
	"github.com/voxlog/journal-gateway/internal/transcript"
)

// configMessage is the one-time handshake sent after the socket opens.
type configMessage struct {
	APIKey                  string   `json:"api_key"`
	Model                   string   `json:"model"`
	LanguageHints           []string `json:"language_hints,omitempty"`
	EnableEndpointDetection bool     `json:"enable_endpoint_detection"`
	AudioFormat             string   `json:"audio_format"`
	SampleRate              int      `json:"sample_rate"`
	NumChannels             int      `json:"num_channels"`
}

// upstreamMessage is one inbound recognizer message.
type upstreamMessage struct {
	Tokens       []upstreamToken `json:"tokens"`
	ErrorCode    int             `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
	Finished     bool            `json:"finished"`
}

type upstreamToken struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	StartMs int    `json:"start_ms"`
	EndMs   int    `json:"end_ms"`
}

// SonioxClient implements Client against the Soniox realtime websocket
// protocol. One instance serves exactly one recording session.
type SonioxClient struct {
	cfg      *config.Config
	listener Listener
	logger   zerolog.Logger

	url              string
	insecure         bool // test hook: allow ws:// upstreams
	handshakeTimeout time.Duration
	silenceThreshold time.Duration
	heartbeat        time.Duration
	policy           *resilience.ReconnectPolicy

	ctx    context.Context
	cancel context.CancelFunc

	watchdogOnce sync.Once

	// writeMu serializes socket writes (audio frames, handshake, close).
	writeMu sync.Mutex

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	closed       bool
	reconnecting bool
	attempts     int
	lastMessage  time.Time

	// Transcript accumulation. Touched only from read loops, which run
	// strictly one at a time across reconnects.
	finalTokens    []transcript.Token
	finalText      strings.Builder
	prevFinalEndMs int
}

// NewSonioxClient creates a client for one session. The listener receives
// every transcript, endpoint and error event.
func NewSonioxClient(cfg *config.Config, listener Listener, logger zerolog.Logger) *SonioxClient {
	return &SonioxClient{
		cfg:              cfg,
		listener:         listener,
		logger:           logger,
		url:              cfg.SonioxURL,
		handshakeTimeout: time.Duration(cfg.HandshakeTimeout) * time.Second,
		silenceThreshold: time.Duration(cfg.SilenceThreshold) * time.Second,
		heartbeat:        time.Duration(cfg.HeartbeatInterval) * time.Second,
		policy: &resilience.ReconnectPolicy{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Delay:       time.Duration(cfg.ReconnectDelay) * time.Millisecond,
			Multiplier:  1.0,
		},
		prevFinalEndMs: -1,
	}
}

// Connect opens the upstream connection and sends the configuration
// handshake. Configuration problems and handshake timeouts are fatal.
func (c *SonioxClient) Connect(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.SonioxAPIKey) == "" {
		return &ConfigurationError{Reason: "missing API key"}
	}
	if !strings.HasPrefix(c.url, "wss://") && !c.insecure {
		return &ConfigurationError{Reason: "upstream URL scheme is not secure"}
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.dial(c.ctx); err != nil {
		return err
	}

	c.watchdogOnce.Do(func() {
		go c.watchdog()
	})

	c.logger.Info().
		Str("model", c.cfg.SonioxModel).
		Strs("language_hints", c.cfg.LanguageHintList()).
		Msg("Upstream transcription connected")
	return nil
}

// dial opens a socket, performs the handshake and starts the read loop.
// Used for both the initial connection and reconnects.
func (c *SonioxClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}

	dialCtx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return &HandshakeTimeoutError{Err: err}
		}
		return &TransportError{Op: "dial", Err: err}
	}

	handshake := configMessage{
		APIKey:                  c.cfg.SonioxAPIKey,
		Model:                   c.cfg.SonioxModel,
		LanguageHints:           c.cfg.LanguageHintList(),
		EnableEndpointDetection: true,
		AudioFormat:             c.cfg.AudioFormat,
		SampleRate:              c.cfg.SampleRate,
		NumChannels:             c.cfg.NumChannels,
	}

	c.writeMu.Lock()
	err = conn.WriteJSON(handshake)
	c.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return &TransportError{Op: "handshake", Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastMessage = time.Now()
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// SendAudio forwards one binary audio frame. Empty frames are dropped with
// a warning; send failures are reported via the listener, never returned.
func (c *SonioxClient) SendAudio(frame []byte) {
	if len(frame) == 0 {
		c.logger.Warn().Msg("Dropping zero-length audio frame")
		return
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.Warn().Msg("Audio frame received while upstream is not connected")
		c.listener.OnError(&TransportError{Op: "send", Err: errors.New("not connected")})
		return
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.listener.OnError(&TransportError{Op: "send", Err: err})
		c.handleConnectionLoss(err)
	}
}

// StopTranscription sends the zero-length end-of-audio frame, prompting
// upstream to flush pending finalization. Distinct from Disconnect.
func (c *SonioxClient) StopTranscription() {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, []byte{})
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send end-of-audio signal")
	}
}

// Disconnect idempotently tears down the connection and resets the
// reconnect budget.
func (c *SonioxClient) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.attempts = 0
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		conn.Close()
	}

	c.logger.Debug().Msg("Upstream transcription disconnected")
}

func (c *SonioxClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.mu.Lock()
				c.connected = false
				c.mu.Unlock()
				c.logger.Debug().Msg("Upstream closed normally")
				return
			}

			c.handleConnectionLoss(err)
			return
		}

		c.mu.Lock()
		c.lastMessage = time.Now()
		c.mu.Unlock()

		c.handleMessage(data)
	}
}

// handleMessage processes one inbound recognizer message: final tokens are
// merged into words and appended to the running transcript, non-final
// tokens form the preview tail. Parse failures skip the message.
func (c *SonioxClient) handleMessage(data []byte) {
	var msg upstreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("Skipping malformed upstream message")
		return
	}

	if msg.ErrorCode != 0 {
		c.listener.OnError(&UpstreamError{Code: msg.ErrorCode, Message: msg.ErrorMessage})
		return
	}

	if msg.Finished {
		c.logger.Debug().Msg("Upstream finished flushing")
		return
	}

	var finalDelta, nonFinal strings.Builder
	for _, tok := range msg.Tokens {
		if tok.Text == "" || tok.EndMs < tok.StartMs {
			// Defensive skip; upstream occasionally emits degenerate tokens.
			continue
		}

		if !tok.IsFinal {
			nonFinal.WriteString(tok.Text)
			continue
		}

		if strings.Contains(tok.Text, transcript.EndTokenMarker) {
			c.recordEndpoint(tok)
		}

		c.finalTokens = append(c.finalTokens, transcript.Token{
			Text:    tok.Text,
			IsFinal: true,
			StartMs: tok.StartMs,
			EndMs:   tok.EndMs,
		})
		finalDelta.WriteString(tok.Text)
		if transcript.CleanText(tok.Text) != "" {
			c.prevFinalEndMs = tok.EndMs
		}
	}

	if finalDelta.Len() > 0 {
		c.finalText.WriteString(finalDelta.String())
		words := transcript.MergeTokens(c.finalTokens)
		c.listener.OnTranscript(TranscriptEvent{
			Text:    finalDelta.String(),
			IsFinal: true,
			Words:   words,
		})
	}

	if nonFinal.Len() > 0 {
		c.listener.OnTranscript(TranscriptEvent{
			Text:    c.finalText.String() + nonFinal.String(),
			IsFinal: false,
		})
	}
}

// recordEndpoint reports the trailing silence the endpoint detector
// measured: the gap between the last spoken token and the marker token.
func (c *SonioxClient) recordEndpoint(tok upstreamToken) {
	if c.prevFinalEndMs < 0 {
		return
	}
	pause := float64(tok.EndMs-c.prevFinalEndMs) / 1000.0
	if pause <= 0 {
		return
	}
	c.listener.OnEndpoint(pause)
}

// handleConnectionLoss starts a background reconnect cycle unless one is
// already running or the client is closed.
func (c *SonioxClient) handleConnectionLoss(cause error) {
	c.mu.Lock()
	if c.closed || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.reconnecting = true
	c.mu.Unlock()

	c.logger.Warn().Err(cause).Msg("Upstream connection lost, reconnecting")
	go c.reconnectLoop(cause)
}

// reconnectLoop drives the bounded reconnect budget. The attempt counter
// spans the whole session (Disconnect resets it): losing the connection
// repeatedly must eventually surface a fatal error rather than retrying
// forever while the user keeps recording into a dead relay.
func (c *SonioxClient) reconnectLoop(cause error) {
	sleep := c.policy.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if c.attempts >= c.policy.MaxAttempts {
			c.reconnecting = false
			c.mu.Unlock()
			c.listener.OnError(&ConnectionLostError{Attempts: c.policy.MaxAttempts, Err: cause})
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		observability.RecordSTTReconnect()
		if err := sleep(c.ctx, c.policy.Delay); err != nil {
			return
		}

		if err := c.dial(c.ctx); err != nil {
			cause = err
			c.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", c.policy.MaxAttempts).
				Msg("Upstream reconnect attempt failed")
			continue
		}

		c.logger.Info().Int("attempt", attempt).Msg("Upstream reconnected")
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
		return
	}
}

// watchdog periodically checks upstream liveness: prolonged silence while
// the socket is down triggers the reconnect path.
func (c *SonioxClient) watchdog() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			silent := time.Since(c.lastMessage) > c.silenceThreshold
			down := !c.connected && !c.closed && !c.reconnecting
			c.mu.Unlock()

			if silent && down {
				c.handleConnectionLoss(errors.New("no upstream messages within silence threshold"))
			}
		}
	}
}
