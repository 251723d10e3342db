package hubs

import "github.com/pkg/errors"

// Websocket failure taxonomy.  Each condition is distinct so callers can
// decide between reconnect and abort.  Credential failures at the
// negotiate/dial layer are classified as transport.ErrInvalidCredentials,
// not as one of these socket-level conditions.
var (
	ErrCannotConnect    = errors.New("websocket: cannot connect")
	ErrConnectionClosed = errors.New("websocket: connection closed")
	ErrConnectionFailed = errors.New("websocket: connection failed")
	ErrInvalidMessage   = errors.New("websocket: invalid message")
	ErrNotConnected     = errors.New("websocket: not connected")
)
