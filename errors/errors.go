package errors

import "fmt"

var (
	ErrWorkerPanic       = fmt.Errorf("worker panic")
	ErrMalformedFrame    = fmt.Errorf("malformed frame")
	ErrMissingChannel    = fmt.Errorf("frame carries no channel")
	ErrUnknownFrameType  = fmt.Errorf("unknown frame type")
	ErrUnknownCommand    = fmt.Errorf("unsupported command")
	ErrInvalidIdentity   = fmt.Errorf("identity claim is not well-formed")
	ErrAlreadyRegistered = fmt.Errorf("identity already attached to connection")
	ErrNoIdentity        = fmt.Errorf("connection has no identity")
	ErrPeerClosed        = fmt.Errorf("peer transport is closed")
	ErrChannelRejected   = fmt.Errorf("channel does not accept client inserts")
)
