package domain

import "errors"

var (
	ErrNotConnected        = errors.New("signaling channel not connected")
	ErrChannelClosed       = errors.New("signaling channel closed")
	ErrReconnectExhausted  = errors.New("reconnect attempts exhausted")
	ErrConnectTimeout      = errors.New("connection attempt timed out")
	ErrPongTimeout         = errors.New("pong not received in time")
	ErrMessageTimeout      = errors.New("no inbound traffic in time")
	ErrMissingType         = errors.New("message missing type")
	ErrUnknownType         = errors.New("unknown message type")
	ErrMissingField        = errors.New("message missing required field")
	ErrNoRemoteDescription = errors.New("remote description not set")
	ErrPeerClosed          = errors.New("peer session closed")
	ErrSinkDisabled        = errors.New("recording sink disabled")
	ErrRecordingFinalized  = errors.New("recording already finalized")
	ErrQueueFull           = errors.New("sink queue full")
	ErrBroadcastStopped    = errors.New("broadcast stopped")
)
