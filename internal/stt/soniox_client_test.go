package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxlog/journal-gateway/internal/config"
)

type fakeListener struct {
	mu     sync.Mutex
	events []TranscriptEvent
	pauses []float64
	errs   []error

	fatal chan error
}

func newFakeListener() *fakeListener {
	return &fakeListener{fatal: make(chan error, 1)}
}

func (l *fakeListener) OnTranscript(ev TranscriptEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *fakeListener) OnEndpoint(pause float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pauses = append(l.pauses, pause)
}

func (l *fakeListener) OnError(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()

	var lost *ConnectionLostError
	if errors.As(err, &lost) {
		select {
		case l.fatal <- err:
		default:
		}
	}
}

func (l *fakeListener) snapshot() []TranscriptEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TranscriptEvent(nil), l.events...)
}

func testConfig() *config.Config {
	return &config.Config{
		SonioxAPIKey:         "test-key",
		SonioxURL:            "wss://stt-rt.example.com/transcribe-websocket",
		SonioxModel:          "stt-rt-preview",
		LanguageHints:        "en",
		SampleRate:           16000,
		NumChannels:          1,
		AudioFormat:          "pcm_f32le",
		HandshakeTimeout:     2,
		HeartbeatInterval:    1,
		SilenceThreshold:     2,
		ReconnectMaxAttempts: 3,
		ReconnectDelay:       10,
	}
}

func newTestClient(listener Listener) *SonioxClient {
	return NewSonioxClient(testConfig(), listener, zerolog.Nop())
}

func TestConnect_MissingAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.SonioxAPIKey = ""
	c := NewSonioxClient(cfg, newFakeListener(), zerolog.Nop())

	err := c.Connect(context.Background())

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError, got %v", err)
	}
}

func TestConnect_InsecureURL(t *testing.T) {
	cfg := testConfig()
	cfg.SonioxURL = "ws://stt-rt.example.com/transcribe-websocket"
	c := NewSonioxClient(cfg, newFakeListener(), zerolog.Nop())
	c.url = cfg.SonioxURL

	err := c.Connect(context.Background())

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError, got %v", err)
	}
}

func TestSendAudio_EmptyFrameDropped(t *testing.T) {
	listener := newFakeListener()
	c := newTestClient(listener)

	c.SendAudio(nil)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.errs) != 0 {
		t.Errorf("Expected no error for empty frame, got %v", listener.errs)
	}
}

func TestSendAudio_NotConnected(t *testing.T) {
	listener := newFakeListener()
	c := newTestClient(listener)

	c.SendAudio([]byte{0x01, 0x02})

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.errs) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(listener.errs))
	}
	var transportErr *TransportError
	if !errors.As(listener.errs[0], &transportErr) {
		t.Errorf("Expected TransportError, got %v", listener.errs[0])
	}
}

func TestHandleMessage_FinalAndNonFinal(t *testing.T) {
	listener := newFakeListener()
	c := newTestClient(listener)

	c.handleMessage([]byte(`{"tokens":[
		{"text":"Hello","is_final":true,"start_ms":0,"end_ms":500},
		{"text":" world","is_final":true,"start_ms":500,"end_ms":1000},
		{"text":" how","is_final":false,"start_ms":1000,"end_ms":1200}
	]}`))

	events := listener.snapshot()
	if len(events) != 2 {
		t.Fatalf("Expected 2 events (final + non-final), got %d", len(events))
	}

	final := events[0]
	if !final.IsFinal {
		t.Error("Expected first event to be final")
	}
	if final.Text != "Hello world" {
		t.Errorf("Expected final delta 'Hello world', got '%s'", final.Text)
	}
	if len(final.Words) != 2 {
		t.Fatalf("Expected 2 words, got %d", len(final.Words))
	}
	if final.Words[0].Word != "Hello" || final.Words[1].Word != "world" {
		t.Errorf("Unexpected words: %+v", final.Words)
	}
	if final.Words[1].StartTime != 0.5 || final.Words[1].EndTime != 1.0 {
		t.Errorf("Unexpected word timestamps: %+v", final.Words[1])
	}

	preview := events[1]
	if preview.IsFinal {
		t.Error("Expected second event to be non-final")
	}
	if preview.Text != "Hello world how" {
		t.Errorf("Expected preview 'Hello world how', got '%s'", preview.Text)
	}
	if preview.Words != nil {
		t.Error("Expected no words on non-final event")
	}
}

func TestHandleMessage_TranscriptAccumulatesAcrossMessages(t *testing.T) {
	listener := newFakeListener()
	c := newTestClient(listener)

	c.handleMessage([]byte(`{"tokens":[{"text":"One","is_final":true,"start_ms":0,"end_ms":200}]}`))
	c.handleMessage([]byte(`{"tokens":[{"text":" two","is_final":true,"start_ms":200,"end_ms":400}]}`))
	c.handleMessage([]byte(`{"tokens":[{"text":" three","is_final":false,"start_ms":400,"end_ms":600}]}`))

	events := listener.snapshot()
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}

	// Final deltas carry only the new text; preview carries the whole
	// accumulated transcript plus the provisional tail.
	if events[0].Text != "One" || events[1].Text != " two" {
		t.Errorf("Unexpected final deltas: %q, %q", events[0].Text, events[1].Text)
	}
	if events[2].Text != "One two three" {
		t.Errorf("Expected preview 'One two three', got '%s'", events[2].Text)
	}
	if len(events[1].Words) != 2 {
		t.Errorf("Expected 2 words after second message, got %d", len(events[1].Words))
	}
}

func TestHandleMessage_EndpointPause(t *testing.T) {
	listener := newFakeListener()
	c := newTestClient(listener)

	c.handleMessage([]byte(`{"tokens":[{"text":"hi","is_final":true,"start_ms":0,"end_ms":500}]}`))
	c.handleMessage([]byte(`{"tokens":[{"text":"<end>","is_final":true,"start_ms":2500,"end_ms":2500}]}`))

	listener.mu.Lock()
	pauses := append([]float64(nil), listener.pauses...)
	listener.mu.Unlock()

	if len(pauses) != 1 {
		t.Fatalf("Expected 1 pause, got %d", len(pauses))
	}
	if pauses[0] != 2.0 {
		t.Errorf("Expected pause 2.0s, got %f", pauses[0])
	}
}

func TestHandleMessage_MalformedSkipped(t *testing.T) {
	listener := newFakeListener()
	c := newTestClient(listener)

	c.handleMessage([]byte(`{not json`))
	c.handleMessage([]byte(`{"tokens":[{"text":"ok","is_final":true,"start_ms":0,"end_ms":100}]}`))

	events := listener.snapshot()
	if len(events) != 1 {
		t.Fatalf("Expected parse error to be skipped, got %d events", len(events))
	}
	if events[0].Text != "ok" {
		t.Errorf("Expected 'ok', got '%s'", events[0].Text)
	}
}

func TestHandleMessage_DegenerateTokensSkipped(t *testing.T) {
	listener := newFakeListener()
	c := newTestClient(listener)

	c.handleMessage([]byte(`{"tokens":[
		{"text":"","is_final":true,"start_ms":0,"end_ms":100},
		{"text":"bad","is_final":true,"start_ms":500,"end_ms":100}
	]}`))

	if events := listener.snapshot(); len(events) != 0 {
		t.Errorf("Expected degenerate tokens to produce no events, got %+v", events)
	}
}

func TestHandleMessage_UpstreamError(t *testing.T) {
	listener := newFakeListener()
	c := newTestClient(listener)

	c.handleMessage([]byte(`{"error_code":401,"error_message":"bad credential"}`))

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.errs) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(listener.errs))
	}
	var upErr *UpstreamError
	if !errors.As(listener.errs[0], &upErr) {
		t.Fatalf("Expected UpstreamError, got %v", listener.errs[0])
	}
	if upErr.Code != 401 {
		t.Errorf("Expected code 401, got %d", upErr.Code)
	}
}

// abruptUpstream accepts websocket upgrades and kills each connection
// without a close handshake, simulating abnormal upstream closures.
func abruptUpstream(t *testing.T, connCount *atomic.Int32) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCount.Add(1)
		// Consume the handshake, then drop the connection abruptly.
		_, _, _ = conn.ReadMessage()
		conn.Close()
	}))
}

func TestReconnect_BoundedAttemptsThenFatal(t *testing.T) {
	var connCount atomic.Int32
	srv := abruptUpstream(t, &connCount)
	defer srv.Close()

	listener := newFakeListener()
	c := newTestClient(listener)
	c.insecure = true
	c.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	c.policy.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	select {
	case err := <-listener.fatal:
		var lost *ConnectionLostError
		if !errors.As(err, &lost) {
			t.Fatalf("Expected ConnectionLostError, got %v", err)
		}
		if lost.Attempts != 3 {
			t.Errorf("Expected 3 reconnect attempts, got %d", lost.Attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for fatal connection-lost error")
	}

	// Initial connection plus exactly three reconnects.
	if got := connCount.Load(); got != 4 {
		t.Errorf("Expected 4 upstream connections, got %d", got)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	listener := newFakeListener()
	c := newTestClient(listener)

	c.Disconnect()
	c.Disconnect()

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.errs) != 0 {
		t.Errorf("Expected no errors from double disconnect, got %v", listener.errs)
	}
}
