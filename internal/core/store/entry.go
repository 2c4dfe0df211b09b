package store

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/peerdex-network/peerdex-daemon/pkg/crypto"
)

// Entry is a replicated store record: an opaque typed payload, signed by its
// owner together with a monotonic sequence number, and kept alive by TTL
// refreshes.
type Entry struct {
	PayloadType    string `json:"payloadType"`
	Payload        []byte `json:"payload"`
	OwnerPubKey    []byte `json:"ownerPubKey"`
	SequenceNumber int64  `json:"sequenceNumber"`
	Signature      []byte `json:"signature"`
	CreationTime   int64  `json:"creationTime"`
	TTLMillis      int64  `json:"ttlMillis"`
}

// NewEntry builds and signs an entry owned by the given key.
func NewEntry(
	payloadType string, payload []byte, owner *btcec.PrivateKey,
	sequenceNumber int64, ttl time.Duration, now time.Time,
) Entry {
	return Entry{
		PayloadType:    payloadType,
		Payload:        payload,
		OwnerPubKey:    owner.PubKey().SerializeCompressed(),
		SequenceNumber: sequenceNumber,
		Signature:      crypto.Sign(owner, signedBytes(payload, sequenceNumber)),
		CreationTime:   now.UnixNano() / int64(time.Millisecond),
		TTLMillis:      int64(ttl / time.Millisecond),
	}
}

// ContentHash is the store key of the entry: the hash of the payload bytes
// alone, so add, refresh and remove all agree on the same key regardless of
// the sequence number they carry.
func (e Entry) ContentHash() []byte {
	return crypto.Hash(e.Payload)
}

// Key returns the map key form of ContentHash.
func (e Entry) Key() string {
	return hex.EncodeToString(e.ContentHash())
}

// IsExpired reports whether the entry's TTL has elapsed at the given time.
func (e Entry) IsExpired(now time.Time) bool {
	nowMillis := now.UnixNano() / int64(time.Millisecond)
	return e.CreationTime+e.TTLMillis < nowMillis
}

// VerifySignature checks the owner's signature over (payload, sequence).
func (e Entry) VerifySignature() error {
	return crypto.Verify(
		e.OwnerPubKey, signedBytes(e.Payload, e.SequenceNumber), e.Signature,
	)
}

// RefreshRequest keeps an already stored entry alive: it references the
// entry by content hash and carries a newer sequence number signed by the
// owner. The payload itself is not re-transmitted.
type RefreshRequest struct {
	ContentHash    []byte `json:"contentHash"`
	SequenceNumber int64  `json:"sequenceNumber"`
	Signature      []byte `json:"signature"`
}

// NewRefreshRequest builds and signs a refresh for the given content hash.
func NewRefreshRequest(
	contentHash []byte, owner *btcec.PrivateKey, sequenceNumber int64,
) RefreshRequest {
	return RefreshRequest{
		ContentHash:    contentHash,
		SequenceNumber: sequenceNumber,
		Signature: crypto.Sign(
			owner, signedBytes(contentHash, sequenceNumber),
		),
	}
}

// Key returns the map key form of the referenced content hash.
func (r RefreshRequest) Key() string {
	return hex.EncodeToString(r.ContentHash)
}

func (r RefreshRequest) verifyAgainst(ownerPubKey []byte) error {
	return crypto.Verify(
		ownerPubKey, signedBytes(r.ContentHash, r.SequenceNumber), r.Signature,
	)
}

func signedBytes(data []byte, sequenceNumber int64) []byte {
	buf := make([]byte, len(data)+8)
	copy(buf, data)
	binary.BigEndian.PutUint64(buf[len(data):], uint64(sequenceNumber))
	return buf
}
