package server

import "errors"

// Error kinds per spec.md §7. Packet-scoped kinds are logged and the
// datagram is dropped; they are never fatal to the server process.
var (
	ErrMalformedPacket         = errors.New("malformed packet")
	ErrCompressionOverflow     = errors.New("compression overflow")
	ErrUnknownMessageType      = errors.New("unknown message type")
	ErrUnknownPlayer           = errors.New("unknown player")
	ErrUnknownMatch            = errors.New("unknown match")
	ErrMatchProvisioningFailed = errors.New("match provisioning failed")
	ErrPlayerTimeout           = errors.New("player timeout")
	ErrDurationReached         = errors.New("match duration reached")
	ErrSocketError             = errors.New("socket error")
)
