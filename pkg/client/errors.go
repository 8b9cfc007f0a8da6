package client

import "errors"

var (
	ErrMissingSessionID = errors.New("identity requires a session id")
	ErrMissingURL       = errors.New("config requires a server url")
	ErrClosed           = errors.New("manager closed")
	ErrQueueFull        = errors.New("outbound queue full")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)
