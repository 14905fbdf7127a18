package stt

import "fmt"

// ConfigurationError is a fatal client setup problem (missing credential,
// insecure upstream URL). Never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("upstream configuration error: %s", e.Reason)
}

// HandshakeTimeoutError means the upstream connection did not open within
// the handshake deadline. Fatal for that connection attempt.
type HandshakeTimeoutError struct {
	Err error
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("upstream handshake timed out: %v", e.Err)
}

func (e *HandshakeTimeoutError) Unwrap() error { return e.Err }

// ConnectionLostError means the upstream connection died and the bounded
// reconnection budget is exhausted. Fatal for the session.
type ConnectionLostError struct {
	Attempts int
	Err      error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("upstream connection lost after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

// TransportError is a recoverable mid-session send failure, surfaced to the
// listener while reconnection proceeds in the background.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError carries an error message the recognizer itself sent.
type UpstreamError struct {
	Code    int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream recognizer error %d: %s", e.Code, e.Message)
}
