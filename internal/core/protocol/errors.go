package protocol

import "errors"

// Header errors. Every decode failure wraps ErrInvalidHeader so the
// connection layer can tell protocol garbage apart from I/O failures.
var (
	ErrInvalidHeader      = errors.New("protocol: invalid header")
	ErrInvalidMagic       = errors.New("protocol: invalid magic")
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrInvalidFlags       = errors.New("protocol: invalid flags")
	ErrInvalidFrameType   = errors.New("protocol: invalid frame type")
	ErrInvalidMessageKind = errors.New("protocol: invalid message kind")
)

// Frame errors
var (
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
)

// Publish payload errors
var (
	ErrPublishTruncated = errors.New("protocol: publish payload truncated")
	ErrTopicNotUTF8     = errors.New("protocol: topic is not valid UTF-8")
	ErrTopicTooLong     = errors.New("protocol: topic longer than 65535 bytes")
)
