package inproc

import (
	"fmt"
	"sync"

	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
)

// Network is an in-process messaging substrate wiring Transports together by
// address. It backs tests and single-process local clusters; deliveries are
// synchronous so tests stay deterministic.
type Network struct {
	mu    sync.RWMutex
	nodes map[ports.NodeAddress]*Transport
}

// NewNetwork returns an empty Network.
func NewNetwork() *Network {
	return &Network{nodes: map[ports.NodeAddress]*Transport{}}
}

// Join adds a node under the given address and announces the connection to
// every other node.
func (n *Network) Join(addr ports.NodeAddress) *Transport {
	t := &Transport{
		network:       n,
		addr:          addr,
		msgListeners:  map[int]ports.MessageListener{},
		connListeners: map[int]ports.ConnectionListener{},
		failures:      map[ports.NodeAddress]int{},
	}
	n.mu.Lock()
	n.nodes[addr] = t
	peers := make([]*Transport, 0, len(n.nodes))
	for a, p := range n.nodes {
		if a != addr {
			peers = append(peers, p)
		}
	}
	n.mu.Unlock()

	for _, p := range peers {
		p.notifyConnection(addr, true)
		t.notifyConnection(p.addr, true)
	}
	return t
}

// Leave removes a node and announces the closed connection.
func (n *Network) Leave(addr ports.NodeAddress) {
	n.mu.Lock()
	delete(n.nodes, addr)
	peers := make([]*Transport, 0, len(n.nodes))
	for _, p := range n.nodes {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	for _, p := range peers {
		p.notifyConnection(addr, false)
	}
}

func (n *Network) lookup(addr ports.NodeAddress) (*Transport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.nodes[addr]
	return t, ok
}

func (n *Network) all() []*Transport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	nodes := make([]*Transport, 0, len(n.nodes))
	for _, t := range n.nodes {
		nodes = append(nodes, t)
	}
	return nodes
}

// Transport is one node's view of the Network.
type Transport struct {
	network *Network
	addr    ports.NodeAddress

	mu            sync.Mutex
	nextID        int
	msgListeners  map[int]ports.MessageListener
	connListeners map[int]ports.ConnectionListener
	failures      map[ports.NodeAddress]int
}

var _ ports.PeerTransport = (*Transport)(nil)

func (t *Transport) Address() ports.NodeAddress { return t.addr }

func (t *Transport) Send(
	to ports.NodeAddress, env ports.Envelope, done ports.SendCallback,
) {
	target, ok := t.network.lookup(to)
	if !ok {
		t.MarkPeerFailed(to)
		if done != nil {
			done(fmt.Errorf("peer %s is not reachable", to))
		}
		return
	}
	target.deliver(env, t.addr)
	if done != nil {
		done(nil)
	}
}

func (t *Transport) Broadcast(env ports.Envelope, exclude ports.NodeAddress) {
	for _, node := range t.network.all() {
		if node.addr == t.addr || node.addr == exclude {
			continue
		}
		node.deliver(env, t.addr)
	}
}

func (t *Transport) AddMessageListener(l ports.MessageListener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.msgListeners[id] = l
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.msgListeners, id)
	}
}

func (t *Transport) AddConnectionListener(l ports.ConnectionListener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.connListeners[id] = l
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.connListeners, id)
	}
}

func (t *Transport) MarkPeerFailed(peer ports.NodeAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[peer]++
}

func (t *Transport) FailureCount(peer ports.NodeAddress) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures[peer]
}

func (t *Transport) deliver(env ports.Envelope, from ports.NodeAddress) {
	t.mu.Lock()
	listeners := make([]ports.MessageListener, 0, len(t.msgListeners))
	for _, l := range t.msgListeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()
	for _, l := range listeners {
		l(env, from)
	}
}

func (t *Transport) notifyConnection(peer ports.NodeAddress, up bool) {
	t.mu.Lock()
	listeners := make([]ports.ConnectionListener, 0, len(t.connListeners))
	for _, l := range t.connListeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()
	for _, l := range listeners {
		l(peer, up)
	}
}
