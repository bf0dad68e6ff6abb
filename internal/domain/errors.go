package domain

import "errors"

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingSecret    = errors.New("auth secret is not configured")
	ErrUnknownRoom      = errors.New("unknown room")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrConnectionClosed = errors.New("connection closed")
)
