package server

import "errors"

// Server-specific errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerNotRunning     = errors.New("server is not running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrListenerFailed       = errors.New("failed to create listener")
	ErrProtocolViolation    = errors.New("protocol violation")
	ErrNotBinaryMessage     = errors.New("websocket message is not binary")
	ErrTrailingBytes        = errors.New("websocket message holds more than one frame")
)
