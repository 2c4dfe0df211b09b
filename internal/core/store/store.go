package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
)

// Wire message types gossiped between stores.
const (
	MsgAddEntry     = "store/add"
	MsgRefreshEntry = "store/refresh"
	MsgRemoveEntry  = "store/remove"
)

const (
	envelopeVersion = 1

	defaultSweepInterval       = time.Minute
	defaultBroadcastsPerSecond = 50
)

// ChangeKind tags a store change notification.
type ChangeKind int

const (
	EntryAdded ChangeKind = iota
	EntryRefreshed
	EntryRemoved
	EntryExpired
)

// ChangeHandler is invoked on the scheduler goroutine for every accepted
// store mutation.
type ChangeHandler func(kind ChangeKind, entry Entry)

// Opts groups the parameters needed for creating a Store with NewStore.
type Opts struct {
	Transport ports.PeerTransport
	Scheduler scheduler.Scheduler
	Sequences domain.SequenceRepository
	// SweepInterval is the period of the TTL eviction sweep. Production uses
	// minute granularity; tests dial it down to milliseconds.
	SweepInterval time.Duration
	// BroadcastsPerSecond caps the gossip fan-out rate. Negative disables
	// the cap and makes broadcasts synchronous, which tests rely on.
	BroadcastsPerSecond int
}

// Store is the gossip-replicated signed-entry map. All mutation happens on
// the scheduler goroutine; Map returns copies for cross-thread readers.
type Store struct {
	transport ports.PeerTransport
	sched     scheduler.Scheduler
	sequences domain.SequenceRepository
	limiter   ratelimit.Limiter

	sweepInterval  time.Duration
	entries        map[string]Entry
	handlers       []ChangeHandler
	sweepTimer     scheduler.Timer
	removeListener func()
}

// NewStore returns a Store ready to be started.
func NewStore(opts Opts) *Store {
	sweepInterval := opts.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	perSecond := opts.BroadcastsPerSecond
	if perSecond == 0 {
		perSecond = defaultBroadcastsPerSecond
	}
	var limiter ratelimit.Limiter
	if perSecond > 0 {
		limiter = ratelimit.New(perSecond)
	}
	return &Store{
		transport:     opts.Transport,
		sched:         opts.Scheduler,
		sequences:     opts.Sequences,
		limiter:       limiter,
		sweepInterval: sweepInterval,
		entries:       map[string]Entry{},
	}
}

// Start registers the gossip listener and arms the periodic TTL sweep.
func (s *Store) Start() {
	s.removeListener = s.transport.AddMessageListener(s.onEnvelope)
	s.sweepTimer = s.sched.ScheduleRepeating(s.sweepInterval, s.sweep)
}

// Stop disarms the sweep and unregisters the gossip listener.
func (s *Store) Stop() {
	if s.sweepTimer != nil {
		s.sweepTimer.Stop()
	}
	if s.removeListener != nil {
		s.removeListener()
	}
}

// AddChangeHandler registers a handler notified of accepted mutations.
func (s *Store) AddChangeHandler(h ChangeHandler) {
	s.handlers = append(s.handlers, h)
}

// Add validates and inserts an entry, optionally gossiping it onward. It
// returns false, without mutating anything, on any validation failure:
// invalid signature, stale sequence number or elapsed TTL.
func (s *Store) Add(e Entry, sender ports.NodeAddress, allowBroadcast bool) bool {
	if err := e.VerifySignature(); err != nil {
		log.WithError(err).Debug("store: rejected add with bad signature")
		entriesRejected.WithLabelValues("signature").Inc()
		return false
	}
	key := e.Key()
	if e.SequenceNumber <= s.highestSequence(key) {
		log.Debugf(
			"store: rejected add for %s with stale sequence %d",
			key, e.SequenceNumber,
		)
		entriesRejected.WithLabelValues("sequence").Inc()
		return false
	}
	if e.IsExpired(s.sched.Now()) {
		log.Debugf("store: rejected add for %s with elapsed ttl", key)
		entriesRejected.WithLabelValues("ttl").Inc()
		return false
	}

	s.entries[key] = e
	s.recordSequence(key, e.SequenceNumber)
	entriesAdded.Inc()
	storeSize.Set(float64(len(s.entries)))
	s.notify(EntryAdded, e)

	if allowBroadcast {
		s.broadcast(MsgAddEntry, e, sender)
	}
	return true
}

// Refresh resets the TTL clock of an already stored entry without altering
// its payload. The request must reference a known entry and carry a strictly
// increasing sequence number signed by the entry's owner.
func (s *Store) Refresh(
	r RefreshRequest, sender ports.NodeAddress, allowBroadcast bool,
) bool {
	key := r.Key()
	stored, ok := s.entries[key]
	if !ok {
		log.Debugf("store: rejected refresh for unknown entry %s", key)
		entriesRejected.WithLabelValues("unknown").Inc()
		return false
	}
	if r.SequenceNumber <= stored.SequenceNumber {
		log.Debugf(
			"store: rejected refresh for %s with stale sequence %d",
			key, r.SequenceNumber,
		)
		entriesRejected.WithLabelValues("sequence").Inc()
		return false
	}
	if err := r.verifyAgainst(stored.OwnerPubKey); err != nil {
		log.WithError(err).Debug("store: rejected refresh with bad signature")
		entriesRejected.WithLabelValues("signature").Inc()
		return false
	}

	stored.SequenceNumber = r.SequenceNumber
	stored.CreationTime = s.sched.Now().UnixNano() / int64(time.Millisecond)
	s.entries[key] = stored
	s.recordSequence(key, r.SequenceNumber)
	s.notify(EntryRefreshed, stored)

	if allowBroadcast {
		s.broadcast(MsgRefreshEntry, r, sender)
	}
	return true
}

// Remove validates an owner-signed remove record and evicts the matching
// entry.
func (s *Store) Remove(e Entry, sender ports.NodeAddress, allowBroadcast bool) bool {
	if err := e.VerifySignature(); err != nil {
		log.WithError(err).Debug("store: rejected remove with bad signature")
		entriesRejected.WithLabelValues("signature").Inc()
		return false
	}
	key := e.Key()
	if e.SequenceNumber <= s.highestSequence(key) {
		log.Debugf(
			"store: rejected remove for %s with stale sequence %d",
			key, e.SequenceNumber,
		)
		entriesRejected.WithLabelValues("sequence").Inc()
		return false
	}
	stored, ok := s.entries[key]
	if !ok {
		// Record the sequence anyway so a replayed add cannot resurrect the
		// entry later.
		s.recordSequence(key, e.SequenceNumber)
		return false
	}

	delete(s.entries, key)
	s.recordSequence(key, e.SequenceNumber)
	storeSize.Set(float64(len(s.entries)))
	s.notify(EntryRemoved, stored)

	if allowBroadcast {
		s.broadcast(MsgRemoveEntry, e, sender)
	}
	return true
}

// Get returns the entry stored under the given hex content-hash key.
func (s *Store) Get(key string) (Entry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

// Map returns a copy of the stored entries. Readers on other goroutines must
// use it instead of iterating live state.
func (s *Store) Map() map[string]Entry {
	snapshot := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	return snapshot
}

// Size returns the number of stored entries.
func (s *Store) Size() int {
	return len(s.entries)
}

// sweep evicts every entry whose TTL elapsed. Runs on the scheduler.
func (s *Store) sweep() {
	now := s.sched.Now()
	for key, e := range s.entries {
		if !e.IsExpired(now) {
			continue
		}
		delete(s.entries, key)
		entriesExpired.Inc()
		s.notify(EntryExpired, e)
		log.Debugf("store: expired entry %s", key)
	}
	storeSize.Set(float64(len(s.entries)))
}

func (s *Store) notify(kind ChangeKind, e Entry) {
	for _, h := range s.handlers {
		h(kind, e)
	}
}

func (s *Store) highestSequence(key string) int64 {
	highest := int64(0)
	if stored, ok := s.entries[key]; ok {
		highest = stored.SequenceNumber
	}
	if s.sequences == nil {
		return highest
	}
	persisted, err := s.sequences.GetSequence(context.Background(), key)
	if err != nil {
		log.WithError(err).Warn("store: reading persisted sequence number")
		return highest
	}
	if persisted > highest {
		highest = persisted
	}
	return highest
}

func (s *Store) recordSequence(key string, sequence int64) {
	if s.sequences == nil {
		return
	}
	if err := s.sequences.PutSequence(
		context.Background(), key, sequence,
	); err != nil {
		log.WithError(err).Warn("store: persisting sequence number")
	}
}

func (s *Store) broadcast(msgType string, payload interface{}, exclude ports.NodeAddress) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("store: serializing gossip payload")
		return
	}
	env := ports.Envelope{
		Version: envelopeVersion,
		Type:    msgType,
		UID:     uuid.New().String(),
		Sender:  s.transport.Address(),
		Payload: data,
	}
	if s.limiter == nil {
		s.transport.Broadcast(env, exclude)
		return
	}
	// The limiter blocks to enforce the gossip rate, so it must not run on
	// the scheduler goroutine.
	go func() {
		s.limiter.Take()
		s.transport.Broadcast(env, exclude)
	}()
}

// onEnvelope dispatches inbound gossip onto the scheduler goroutine.
func (s *Store) onEnvelope(env ports.Envelope, from ports.NodeAddress) {
	switch env.Type {
	case MsgAddEntry, MsgRemoveEntry:
		var e Entry
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			log.WithError(err).Debug("store: dropping malformed gossip entry")
			return
		}
		if env.Type == MsgAddEntry {
			s.sched.Do(func() { s.Add(e, from, true) })
		} else {
			s.sched.Do(func() { s.Remove(e, from, true) })
		}
	case MsgRefreshEntry:
		var r RefreshRequest
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			log.WithError(err).Debug("store: dropping malformed refresh")
			return
		}
		s.sched.Do(func() { s.Refresh(r, from, true) })
	}
}
