package types

import "errors"

var (
	ErrMalformedEnvelope = errors.New("envelope is not valid JSON")
	ErrMissingEventType  = errors.New("envelope has no type")
	ErrUnknownEventKind  = errors.New("event kind outside the closed set")
)
