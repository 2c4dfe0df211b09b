package domain

import "context"

// SequenceRepository persists the highest sequence number seen per
// content-hash key of the replicated store, so replay protection survives a
// restart.
type SequenceRepository interface {
	// GetSequence returns the stored sequence number for the given
	// content-hash key, or 0 if none was recorded yet.
	GetSequence(ctx context.Context, contentHash string) (int64, error)
	PutSequence(ctx context.Context, contentHash string, sequence int64) error
	GetAllSequences(ctx context.Context) (map[string]int64, error)
}
