package dbbadger

import (
	"context"
	"errors"

	"github.com/timshannon/badgerhold/v4"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
)

// sequenceRecord is the stored form of one per-key sequence number.
type sequenceRecord struct {
	ContentHash string
	Sequence    int64
}

type sequenceRepositoryImpl struct {
	db *DbManager
}

// NewSequenceRepositoryImpl returns a badger backed SequenceRepository.
func NewSequenceRepositoryImpl(db *DbManager) domain.SequenceRepository {
	return sequenceRepositoryImpl{db: db}
}

func (s sequenceRepositoryImpl) GetSequence(
	_ context.Context, contentHash string,
) (int64, error) {
	var record sequenceRecord
	if err := s.db.SeqStore.Get(contentHash, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return record.Sequence, nil
}

func (s sequenceRepositoryImpl) PutSequence(
	ctx context.Context, contentHash string, sequence int64,
) error {
	// A lower number never overwrites a higher one, mirroring the in-memory
	// implementation.
	current, err := s.GetSequence(ctx, contentHash)
	if err != nil {
		return err
	}
	if sequence <= current {
		return nil
	}
	return s.db.SeqStore.Upsert(contentHash, sequenceRecord{
		ContentHash: contentHash,
		Sequence:    sequence,
	})
}

func (s sequenceRepositoryImpl) GetAllSequences(
	_ context.Context,
) (map[string]int64, error) {
	var all []sequenceRecord
	if err := s.db.SeqStore.Find(&all, nil); err != nil {
		return nil, err
	}
	sequences := make(map[string]int64, len(all))
	for _, record := range all {
		sequences[record.ContentHash] = record.Sequence
	}
	return sequences, nil
}
