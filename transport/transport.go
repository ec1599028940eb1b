// Package transport defines the wire records an external collaborator uses
// to carry WaveApp calls and their replies across a session, plus the
// Dispatcher interface that receives them. It holds no I/O: session
// transport (websocket serving, reconnect, framing) is an explicit
// non-goal, the same split goatee draws between its protocol-agnostic
// server package and its hub/ot packages (server/common/types.go,
// server/ot/server.go).
package transport

// RemoteCall is a client-to-server invocation of a WaveApp method,
// mirroring goatee's common.Update (a client-originated record carrying an
// id the server echoes back in its reply).
type RemoteCall struct {
	Type string // discriminant, matching goatee's common.MsgType convention

	// CallerKey identifies the caller (session, connection, or client id);
	// it plays the role goatee's common.Update.ClientId plays for its hub.
	CallerKey string
	// CallKey lets the caller match this call's RemoteReply.
	CallKey string

	// Ref is the target Model's id, downcast from world.Ref before
	// marshaling since Refs themselves never cross the wire.
	Ref string
	// Method is empty for a Create call, in which case ClassName names the
	// Model class to construct instead.
	Method    string
	ClassName string

	Parameters []any
}

// RemoteReply answers a RemoteCall, mirroring goatee's common.Change
// (server-originated, keyed back to the call that produced it).
type RemoteReply struct {
	Type string

	CallKey string
	Result  any
	Err     string // non-empty on failure; RemoteCall has no error channel of its own
}

// Dispatcher runs a RemoteCall against a live App and returns its
// RemoteReply. An external collaborator supplies the transport loop
// (accept a connection, decode a RemoteCall, invoke Dispatch, encode and
// send the RemoteReply) the way goatee's ot.Server.Update /
// hub.broadcast pair does for its own wire structs.
type Dispatcher interface {
	Dispatch(call RemoteCall) (RemoteReply, error)
}
