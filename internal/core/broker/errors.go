package broker

import "errors"

var (
	ErrClientNotRegistered = errors.New("broker: client not registered")
	ErrNilHandle           = errors.New("broker: nil delivery handle")
)
