package dbbadger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"
)

// DbManager holds all the badgerhold stores in a single data structure.
type DbManager struct {
	// Store keeps trades and offers.
	Store *badgerhold.Store
	// SeqStore keeps the replicated store's per-key sequence numbers. It is
	// a separate db because it is written on every accepted gossip mutation.
	SeqStore *badgerhold.Store
}

// NewDbManager opens (or creates if not exists) the badger stores under the
// given base data dir.
func NewDbManager(baseDbDir string, logger badger.Logger) (*DbManager, error) {
	mainDb, err := createDb(filepath.Join(baseDbDir, "main"), logger)
	if err != nil {
		return nil, fmt.Errorf("opening main db: %w", err)
	}

	seqDb, err := createDb(filepath.Join(baseDbDir, "sequences"), logger)
	if err != nil {
		return nil, fmt.Errorf("opening sequences db: %w", err)
	}

	return &DbManager{
		Store:    mainDb,
		SeqStore: seqDb,
	}, nil
}

// Close closes the underlying badger stores.
func (d *DbManager) Close() error {
	if err := d.Store.Close(); err != nil {
		return err
	}
	return d.SeqStore.Close()
}

// JSONEncode is a custom JSON based encoder for badger
func JSONEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer

	en := json.NewEncoder(&buff)

	err := en.Encode(value)
	if err != nil {
		return nil, err
	}

	return buff.Bytes(), nil
}

// JSONDecode is a custom JSON based decoder for badger
func JSONDecode(data []byte, value interface{}) error {
	var buff bytes.Buffer
	de := json.NewDecoder(&buff)

	_, err := buff.Write(data)
	if err != nil {
		return err
	}

	return de.Decode(value)
}

func createDb(dbDir string, logger badger.Logger) (db *badgerhold.Store, err error) {
	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	db, err = badgerhold.Open(badgerhold.Options{
		Encoder:          JSONEncode,
		Decoder:          JSONDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})

	return
}
