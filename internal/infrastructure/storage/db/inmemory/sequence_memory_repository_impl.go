package inmemory

import (
	"context"
	"sync"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
)

type sequenceRepositoryImpl struct {
	mu        sync.RWMutex
	sequences map[string]int64
}

// NewSequenceRepositoryImpl returns an in-memory SequenceRepository.
func NewSequenceRepositoryImpl() domain.SequenceRepository {
	return &sequenceRepositoryImpl{sequences: map[string]int64{}}
}

func (r *sequenceRepositoryImpl) GetSequence(
	_ context.Context, contentHash string,
) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sequences[contentHash], nil
}

func (r *sequenceRepositoryImpl) PutSequence(
	_ context.Context, contentHash string, sequence int64,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sequence > r.sequences[contentHash] {
		r.sequences[contentHash] = sequence
	}
	return nil
}

func (r *sequenceRepositoryImpl) GetAllSequences(
	_ context.Context,
) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sequences := make(map[string]int64, len(r.sequences))
	for k, v := range r.sequences {
		sequences[k] = v
	}
	return sequences, nil
}
