package session

import "errors"

var (
	// ErrSessionNotFound indicates no live connection exists for the session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQRTimeout indicates pairing did not complete within the QR window.
	ErrQRTimeout = errors.New("qr pairing timed out")
	// ErrLogoutFailure indicates the remote logout request failed.
	ErrLogoutFailure = errors.New("logout failed")
	// ErrNoQRCode indicates the session has no pending QR code to render.
	ErrNoQRCode = errors.New("no qr code available")
)
