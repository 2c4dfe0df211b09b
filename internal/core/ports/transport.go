package ports

import "encoding/json"

// NodeAddress is the overlay address of a peer, opaque to the core. The
// anonymization transport resolves it to an actual connection.
type NodeAddress string

// Envelope is the versioned wire unit every message travels in. Payload
// serialization is delegated to the transport codec; the core only relies on
// the type tag, the unique message id and the sender address.
type Envelope struct {
	Version int             `json:"version"`
	Type    string          `json:"type"`
	UID     string          `json:"uid"`
	Sender  NodeAddress     `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

// MessageListener receives every inbound envelope. Listeners run on the
// transport's callback goroutine and must marshal onto the scheduler before
// touching core state.
type MessageListener func(env Envelope, from NodeAddress)

// ConnectionListener is notified when a peer connection is established
// (up=true) or closed (up=false).
type ConnectionListener func(peer NodeAddress, up bool)

// SendCallback reports the outcome of an asynchronous send.
type SendCallback func(err error)

// PeerTransport is the address-based messaging substrate the core builds on.
// Sends are asynchronous: the callback fires once delivery succeeded or
// definitively failed.
type PeerTransport interface {
	Address() NodeAddress
	Send(to NodeAddress, env Envelope, done SendCallback)
	// Broadcast gossips the envelope to every connected peer except the
	// excluded one (typically the peer the data came from).
	Broadcast(env Envelope, exclude NodeAddress)
	// AddMessageListener registers a listener and returns its remover.
	AddMessageListener(l MessageListener) (remove func())
	AddConnectionListener(l ConnectionListener) (remove func())
	// MarkPeerFailed records a delivery fault for peer-selection decisions.
	MarkPeerFailed(peer NodeAddress)
	FailureCount(peer NodeAddress) int
}
