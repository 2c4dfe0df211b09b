package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
)

const (
	wsPath = "/ws"

	writeTimeout      = 10 * time.Second
	redialInterval    = 5 * time.Second
	handshakeDeadline = 10 * time.Second
)

// hello is the first frame on every connection: it announces the dialer's
// public address so the acceptor can key the connection.
type hello struct {
	Address ports.NodeAddress `json:"address"`
}

// Opts groups the parameters needed for creating a websocket Transport.
type Opts struct {
	// ListenAddr is the local bind address of the websocket server.
	ListenAddr string
	// PublicAddress is the address advertised to peers; it must be routable
	// back to ListenAddr.
	PublicAddress ports.NodeAddress
	// Peers are bootstrap nodes dialed on Start and redialed on loss.
	Peers []ports.NodeAddress
}

// Transport is the production PeerTransport: every peer relation is one
// websocket connection carrying JSON envelopes, dialed out to the configured
// bootstrap peers and accepted inbound from anyone.
type Transport struct {
	listenAddr string
	publicAddr ports.NodeAddress
	peers      []ports.NodeAddress

	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	mu            sync.Mutex
	conns         map[ports.NodeAddress]*peerConn
	nextID        int
	msgListeners  map[int]ports.MessageListener
	connListeners map[int]ports.ConnectionListener
	failures      map[ports.NodeAddress]int
	stopped       bool
}

var _ ports.PeerTransport = (*Transport)(nil)

type peerConn struct {
	addr    ports.NodeAddress
	conn    *websocket.Conn
	writeMu sync.Mutex
	// outbound connections are redialed when they drop.
	outbound bool
}

// NewTransport returns a Transport ready to be started.
func NewTransport(opts Opts) *Transport {
	return &Transport{
		listenAddr:    opts.ListenAddr,
		publicAddr:    opts.PublicAddress,
		peers:         opts.Peers,
		upgrader:      websocket.Upgrader{},
		conns:         map[ports.NodeAddress]*peerConn{},
		msgListeners:  map[int]ports.MessageListener{},
		connListeners: map[int]ports.ConnectionListener{},
		failures:      map[ports.NodeAddress]int{},
	}
}

// Start binds the websocket server and dials the bootstrap peers.
func (t *Transport) Start() error {
	ln, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("ws transport listening on %s: %w", t.listenAddr, err)
	}
	t.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, t.serveWs)
	t.server = &http.Server{Handler: mux}
	go func() {
		if err := t.server.Serve(ln); err != http.ErrServerClosed {
			log.WithError(err).Error("ws transport server")
		}
	}()

	for _, peer := range t.peers {
		go t.dialLoop(peer)
	}
	log.Infof("ws transport listening on %s", ln.Addr())
	return nil
}

// ListenAddr returns the bound address, resolved when the configured one used
// an ephemeral port.
func (t *Transport) ListenAddr() string {
	if t.listener == nil {
		return t.listenAddr
	}
	return t.listener.Addr().String()
}

// Stop closes the server and every live connection.
func (t *Transport) Stop() {
	t.mu.Lock()
	t.stopped = true
	conns := make([]*peerConn, 0, len(t.conns))
	for _, pc := range t.conns {
		conns = append(conns, pc)
	}
	t.mu.Unlock()

	for _, pc := range conns {
		pc.conn.Close()
	}
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t.server.Shutdown(ctx)
	}
}

func (t *Transport) Address() ports.NodeAddress { return t.publicAddr }

func (t *Transport) Send(
	to ports.NodeAddress, env ports.Envelope, done ports.SendCallback,
) {
	t.mu.Lock()
	pc, ok := t.conns[to]
	t.mu.Unlock()
	if !ok {
		t.MarkPeerFailed(to)
		if done != nil {
			done(fmt.Errorf("peer %s is not connected", to))
		}
		return
	}
	go func() {
		err := pc.write(env)
		if err != nil {
			t.MarkPeerFailed(to)
		}
		if done != nil {
			done(err)
		}
	}()
}

func (t *Transport) Broadcast(env ports.Envelope, exclude ports.NodeAddress) {
	t.mu.Lock()
	conns := make([]*peerConn, 0, len(t.conns))
	for addr, pc := range t.conns {
		if addr == exclude {
			continue
		}
		conns = append(conns, pc)
	}
	t.mu.Unlock()

	for _, pc := range conns {
		if err := pc.write(env); err != nil {
			log.WithError(err).Debugf("ws: broadcasting to %s", pc.addr)
			t.MarkPeerFailed(pc.addr)
		}
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

// serveWs accepts an inbound connection: upgrade, read the hello, register.
func (t *Transport) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("ws: upgrading inbound connection")
		return
	}
	conn.SetReadDeadline(time.Now().Add(handshakeDeadline))
	var h hello
	if err := conn.ReadJSON(&h); err != nil || h.Address == "" {
		log.Debug("ws: dropping inbound connection without hello")
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	pc := &peerConn{addr: h.Address, conn: conn}
	if err := pc.writeJSON(hello{Address: t.publicAddr}); err != nil {
		conn.Close()
		return
	}
	t.register(pc)
	t.readLoop(pc)
}

// dialLoop keeps one outbound peer connected until the transport stops.
func (t *Transport) dialLoop(peer ports.NodeAddress) {
	for {
		t.mu.Lock()
		stopped := t.stopped
		_, connected := t.conns[peer]
		t.mu.Unlock()
		if stopped {
			return
		}
		if connected {
			time.Sleep(redialInterval)
			continue
		}

		if err := t.dial(peer); err != nil {
			log.WithError(err).Debugf("ws: dialing %s", peer)
			t.MarkPeerFailed(peer)
			time.Sleep(redialInterval)
		}
	}
}

func (t *Transport) dial(peer ports.NodeAddress) error {
	url := "ws://" + string(peer) + wsPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}
	pc := &peerConn{addr: peer, conn: conn, outbound: true}
	if err := pc.writeJSON(hello{Address: t.publicAddr}); err != nil {
		conn.Close()
		return err
	}
	conn.SetReadDeadline(time.Now().Add(handshakeDeadline))
	var h hello
	if err := conn.ReadJSON(&h); err != nil {
		conn.Close()
		return err
	}
	conn.SetReadDeadline(time.Time{})

	t.register(pc)
	go t.readLoop(pc)
	return nil
}

func (t *Transport) register(pc *peerConn) {
	t.mu.Lock()
	if old, ok := t.conns[pc.addr]; ok {
		old.conn.Close()
	}
	t.conns[pc.addr] = pc
	listeners := t.connectionListeners()
	t.mu.Unlock()

	log.Infof("ws: peer %s connected", pc.addr)
	for _, l := range listeners {
		l(pc.addr, true)
	}
}

func (t *Transport) unregister(pc *peerConn) {
	t.mu.Lock()
	current, ok := t.conns[pc.addr]
	if ok && current == pc {
		delete(t.conns, pc.addr)
	}
	listeners := t.connectionListeners()
	stopped := t.stopped
	t.mu.Unlock()
	if !ok || current != pc {
		return
	}

	log.Infof("ws: peer %s disconnected", pc.addr)
	for _, l := range listeners {
		l(pc.addr, false)
	}
	if pc.outbound && !stopped {
		go t.dialLoop(pc.addr)
	}
}

// readLoop decodes envelopes off one connection and fans them out to the
// message listeners.
func (t *Transport) readLoop(pc *peerConn) {
	defer func() {
		pc.conn.Close()
		t.unregister(pc)
	}()
	for {
		var env ports.Envelope
		if err := pc.conn.ReadJSON(&env); err != nil {
			return
		}
		t.mu.Lock()
		listeners := make([]ports.MessageListener, 0, len(t.msgListeners))
		for _, l := range t.msgListeners {
			listeners = append(listeners, l)
		}
		t.mu.Unlock()
		for _, l := range listeners {
			l(env, pc.addr)
		}
	}
}

// connectionListeners must be called with the mutex held.
func (t *Transport) connectionListeners() []ports.ConnectionListener {
	listeners := make([]ports.ConnectionListener, 0, len(t.connListeners))
	for _, l := range t.connListeners {
		listeners = append(listeners, l)
	}
	return listeners
}

func (pc *peerConn) write(env ports.Envelope) error {
	return pc.writeJSON(env)
}

func (pc *peerConn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	pc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return pc.conn.WriteMessage(websocket.TextMessage, data)
}
