package session

import "errors"

var (
	ErrNoActivity      = errors.New("no activity recorded for user")
	ErrMissingIdentity = errors.New("user id and session id are required")
)
