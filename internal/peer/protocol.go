// Package peer implements the conductor side of the mutegrid control
// protocol: resolving bank instances by name, probing for a usable mute
// control, polling their state, and pushing commands and flash edges back.
package peer

import (
	"context"
	"errors"
)

// Message types of the websocket control protocol. The bank serves these on
// its /websocket endpoint; the conductor's client speaks them.
const (
	MsgRead      = "read"
	MsgWrite     = "write"
	MsgSubscribe = "subscribe"
	MsgValue     = "value"
	MsgError     = "error"
)

// Message is one frame of the control protocol. Requests carry an ID the
// reply echoes back; subscription pushes carry no ID.
type Message struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Control string `json:"control,omitempty"`
	Value   string `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Resolution failures. Both are recoverable and user-visible: a name that
// did not resolve at all is distinct from an instance that resolved but
// offers no readable mute control.
var (
	ErrNotFound            = errors.New("instance not found")
	ErrControlInaccessible = errors.New("no accessible mute control")
	ErrMixedCommand        = errors.New("mixed is not a settable state")
	ErrClientClosed        = errors.New("control connection closed")
)

// Control is attribute-style access to one named control on a remote bank.
type Control interface {
	Name() string
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, value string) error
	Subscribe(ctx context.Context, fn func(value string)) error
}

// Handle is an open connection to one resolved bank instance.
type Handle interface {
	// Control probes for a named control; ErrControlInaccessible means the
	// instance is reachable but does not expose it.
	Control(ctx context.Context, name string) (Control, error)
	Close() error
}

// Resolver locates a named bank instance on the network and opens a Handle
// to it.
type Resolver interface {
	Resolve(ctx context.Context, name string) (Handle, error)
}
