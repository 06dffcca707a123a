// Package scene defines the contract between the SDK plugins and the
// underlying scene transport: typed RPC, named push routes and a
// connection-state watcher. Plugins consume this contract; transport/ws
// provides the wire implementation.
package scene

import (
	"context"
	"errors"
	"fmt"
)

type State string

const (
	StateConnecting    State = "Connecting"
	StateConnected     State = "Connected"
	StateDisconnecting State = "Disconnecting"
	StateDisconnected  State = "Disconnected"
)

// Well-known disconnection reasons. The server closes the scene connection
// with a reason string; ReasonKicked must stay distinguishable from a
// generic disconnect so the party layer can report the correct leave reason.
const (
	ReasonKicked          = "party.kicked"
	ReasonClientDestroyed = "client.destroyed"
)

type ConnectionState struct {
	State  State
	Reason string
}

var (
	ErrDisconnected    = errors.New("scene: not connected")
	ErrClientDestroyed = errors.New("scene: client destroyed")
)

// RemoteError is a failure returned by the server for an RPC. ID carries the
// server-side error identifier so callers can match distinguished failures.
type RemoteError struct {
	Route   string
	ID      string
	Message string
}

func (e *RemoteError) Error() string {
	if e == nil {
		return "scene: remote error"
	}

	if e.ID != "" {
		return fmt.Sprintf("scene: rpc %s failed: %s (%s)", e.Route, e.ID, e.Message)
	}

	return fmt.Sprintf("scene: rpc %s failed: %s", e.Route, e.Message)
}

// IsRemote reports whether err is a RemoteError with the given id.
func IsRemote(err error, id string) bool {
	var remote *RemoteError
	if !errors.As(err, &remote) {
		return false
	}

	return remote.ID == id
}

// Handler receives the raw payload of a push message on a named route.
// Handlers run on the transport's dispatch goroutine, one message at a time
// per scene, in server-send order.
type Handler func(ctx context.Context, payload []byte)

// Scene is one established connection to a remote scene.
type Scene interface {
	ID() string

	// Rpc sends a request on the named route and decodes the reply into out.
	// A nil out discards the reply body. Server failures surface as
	// *RemoteError.
	Rpc(ctx context.Context, route string, args any, out any) error

	// Send is fire-and-forget: no reply is awaited.
	Send(ctx context.Context, route string, args any) error

	// AddRoute registers the handler for a named server push route. Routes
	// must be registered before messages arrive; the transport drops pushes
	// for unknown routes.
	AddRoute(route string, h Handler)

	// OnStateChanged registers a watcher for connection-state transitions
	// and returns its unsubscribe func. The watcher is invoked with the
	// current state immediately on registration.
	OnStateChanged(fn func(ConnectionState)) (unsubscribe func())

	Disconnect(ctx context.Context) error
}

// Connector establishes scene connections from opaque connection tokens.
type Connector interface {
	ConnectToScene(ctx context.Context, token string) (Scene, error)
}
