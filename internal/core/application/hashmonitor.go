package application

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/peerdex-network/peerdex-daemon/internal/core/network"
	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
	"github.com/peerdex-network/peerdex-daemon/internal/core/store"
	"github.com/peerdex-network/peerdex-daemon/pkg/crypto"
	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
)

// StateHashPayloadType tags replicated store entries carrying a node's state
// hash report.
const StateHashPayloadType = "peerdex/state-hash"

// Wire types of the direct hash verification exchange.
const (
	MsgHashRequest  = "monitor/hash-request"
	MsgHashResponse = "monitor/hash-response"
)

const defaultMonitorInterval = 5 * time.Minute

// hashReport is the payload of both the replicated state hash entry and the
// direct hash response.
type hashReport struct {
	Address string `json:"address"`
	Hash    string `json:"hash"`
}

// Conflict records a confirmed state divergence with a peer.
type Conflict struct {
	Peer      ports.NodeAddress
	LocalHash string
	PeerHash  string
	Time      time.Time
}

// ConflictHandler is notified of confirmed divergences.
type ConflictHandler func(c Conflict)

// HashMonitorOpts groups the parameters needed for creating a
// NetworkHashMonitor.
type HashMonitorOpts struct {
	Transport ports.PeerTransport
	Scheduler scheduler.Scheduler
	Store     *store.Store
	OwnKey    *btcec.PrivateKey
	// Interval is the period of the publish-and-compare cycle.
	Interval       time.Duration
	RequestTimeout time.Duration
	// Breaker guards the direct verification requests. Optional.
	Breaker *gobreaker.CircuitBreaker
}

// NetworkHashMonitor watches for state divergence across the network. Every
// interval it publishes a hash of the local store into the store itself and
// compares the reports of other nodes against its own; a mismatch is
// double-checked with a direct nonce-matched request before it is reported
// as a conflict. A divergence seen this way usually means a peer is
// censoring or corrupting entries.
type NetworkHashMonitor struct {
	transport      ports.PeerTransport
	sched          scheduler.Scheduler
	store          *store.Store
	ownKey         *btcec.PrivateKey
	interval       time.Duration
	requestTimeout time.Duration
	breaker        *gobreaker.CircuitBreaker

	sequence int64
	pending  map[ports.NodeAddress]bool
	// One live conflict record per peer; a divergence that persists across
	// ticks updates in place instead of growing the history.
	conflicts      []Conflict
	conflictIdx    map[ports.NodeAddress]int
	lastConflict   map[ports.NodeAddress]string
	handlers       []ConflictHandler
	tickTimer      scheduler.Timer
	removeListener func()
}

// NewNetworkHashMonitor returns a monitor ready to be started.
func NewNetworkHashMonitor(opts HashMonitorOpts) *NetworkHashMonitor {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	return &NetworkHashMonitor{
		transport:      opts.Transport,
		sched:          opts.Scheduler,
		store:          opts.Store,
		ownKey:         opts.OwnKey,
		interval:       interval,
		requestTimeout: opts.RequestTimeout,
		breaker:        opts.Breaker,
		sequence:       opts.Scheduler.Now().UnixNano() / int64(time.Millisecond),
		pending:        map[ports.NodeAddress]bool{},
		conflictIdx:    map[ports.NodeAddress]int{},
		lastConflict:   map[ports.NodeAddress]string{},
	}
}

// Start registers the hash request responder and arms the periodic cycle.
func (m *NetworkHashMonitor) Start() {
	m.removeListener = m.transport.AddMessageListener(m.onEnvelope)
	m.tickTimer = m.sched.ScheduleRepeating(m.interval, m.tick)
}

// Stop disarms the cycle and unregisters the responder.
func (m *NetworkHashMonitor) Stop() {
	if m.tickTimer != nil {
		m.tickTimer.Stop()
	}
	if m.removeListener != nil {
		m.removeListener()
	}
}

// AddConflictHandler registers a handler notified of confirmed divergences.
// Register before Start.
func (m *NetworkHashMonitor) AddConflictHandler(h ConflictHandler) {
	m.handlers = append(m.handlers, h)
}

// LocalHash returns the current hash of the local store state.
func (m *NetworkHashMonitor) LocalHash() string {
	var hash string
	done := make(chan struct{})
	m.sched.Do(func() {
		hash = m.localHash()
		close(done)
	})
	<-done
	return hash
}

// Conflicts returns a snapshot of the confirmed divergences.
func (m *NetworkHashMonitor) Conflicts() []Conflict {
	var out []Conflict
	done := make(chan struct{})
	m.sched.Do(func() {
		out = append(out, m.conflicts...)
		close(done)
	})
	<-done
	return out
}

// localHash digests the store's replicated content: the sorted content keys
// with their sequence numbers. State hash reports themselves are excluded,
// they differ per node by construction.
func (m *NetworkHashMonitor) localHash() string {
	lines := []string{}
	for key, e := range m.store.Map() {
		if e.PayloadType == StateHashPayloadType {
			continue
		}
		lines = append(lines, key+":"+strconv.FormatInt(e.SequenceNumber, 10))
	}
	sort.Strings(lines)
	joined := ""
	for _, line := range lines {
		joined += line + "\n"
	}
	return hex.EncodeToString(crypto.Hash([]byte(joined)))
}

// tick publishes the local hash and checks the other nodes' reports.
func (m *NetworkHashMonitor) tick() {
	local := m.localHash()
	m.publish(local)

	for _, e := range m.store.Map() {
		if e.PayloadType != StateHashPayloadType {
			continue
		}
		var report hashReport
		if err := json.Unmarshal(e.Payload, &report); err != nil {
			log.WithError(err).Debug("hashmonitor: dropping malformed report")
			continue
		}
		peer := ports.NodeAddress(report.Address)
		if peer == m.transport.Address() || report.Hash == local {
			continue
		}
		m.verify(peer)
	}
}

func (m *NetworkHashMonitor) publish(hash string) {
	payload, err := json.Marshal(hashReport{
		Address: string(m.transport.Address()),
		Hash:    hash,
	})
	if err != nil {
		log.WithError(err).Error("hashmonitor: serializing report")
		return
	}
	m.sequence++
	entry := store.NewEntry(
		StateHashPayloadType, payload, m.ownKey,
		m.sequence, 2*m.interval, m.sched.Now(),
	)
	if !m.store.Add(entry, "", true) {
		log.Debug("hashmonitor: store rejected own report")
	}
}

// verify double-checks a suspected divergence with a direct request. At most
// one verification per peer is in flight.
func (m *NetworkHashMonitor) verify(peer ports.NodeAddress) {
	if m.pending[peer] {
		return
	}
	m.pending[peer] = true
	handler := network.NewHandler(network.HandlerOpts{
		Transport:    m.transport,
		Scheduler:    m.sched,
		Breaker:      m.breaker,
		RequestType:  MsgHashRequest,
		ResponseType: MsgHashResponse,
		Timeout:      m.requestTimeout,
		OnComplete: func(body json.RawMessage, from ports.NodeAddress) {
			delete(m.pending, peer)
			m.onVerified(peer, body)
		},
		OnFault: func(reason string) {
			delete(m.pending, peer)
			log.Debugf("hashmonitor: verification of %s failed: %s", peer, reason)
		},
	})
	handler.SendRequest(peer, struct{}{})
}

func (m *NetworkHashMonitor) onVerified(
	peer ports.NodeAddress, body json.RawMessage,
) {
	var report hashReport
	if err := json.Unmarshal(body, &report); err != nil {
		log.WithError(err).Debugf("hashmonitor: malformed response from %s", peer)
		return
	}
	local := m.localHash()
	if report.Hash == local {
		// Converged again; the next divergence is news.
		delete(m.lastConflict, peer)
		return
	}
	// An unchanged divergence was already recorded and reported.
	seen := local + "|" + report.Hash
	if m.lastConflict[peer] == seen {
		return
	}
	m.lastConflict[peer] = seen
	conflict := Conflict{
		Peer:      peer,
		LocalHash: local,
		PeerHash:  report.Hash,
		Time:      m.sched.Now(),
	}
	if idx, ok := m.conflictIdx[peer]; ok {
		m.conflicts[idx] = conflict
	} else {
		m.conflictIdx[peer] = len(m.conflicts)
		m.conflicts = append(m.conflicts, conflict)
	}
	log.Warnf(
		"hashmonitor: state divergence with %s: local %s, peer %s",
		peer, local, report.Hash,
	)
	for _, h := range m.handlers {
		h(conflict)
	}
}

// onEnvelope answers direct hash requests from other monitors.
func (m *NetworkHashMonitor) onEnvelope(
	env ports.Envelope, from ports.NodeAddress,
) {
	if env.Type != MsgHashRequest {
		return
	}
	var req network.Request
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.WithError(err).Debug("hashmonitor: dropping malformed request")
		return
	}
	m.sched.Do(func() {
		err := network.Respond(
			m.transport, m.sched, from, MsgHashResponse, req.Nonce,
			hashReport{
				Address: string(m.transport.Address()),
				Hash:    m.localHash(),
			},
		)
		if err != nil {
			log.WithError(err).Debugf("hashmonitor: answering %s", from)
		}
	})
}
