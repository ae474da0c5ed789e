// Copyright 2026 Provenact Labs
//
// KV adapter over cometbft-db. Gives the event store a durable backend with
// batched, synced writes.

package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"

	"github.com/provenact/operator-node/pkg/store"
)

// Adapter wraps a dbm.DB and exposes the store.KV interface.
type Adapter struct {
	db dbm.DB
}

// New creates an Adapter for the given underlying DB.
func New(db dbm.DB) *Adapter {
	return &Adapter{db: db}
}

// Open creates a GoLevelDB-backed adapter at dir/name.db.
func Open(name, dir string) (*Adapter, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, err
	}
	return &Adapter{db: db}, nil
}

// Get implements store.KV. A missing key returns nil, nil.
func (a *Adapter) Get(key []byte) ([]byte, error) {
	return a.db.Get(key)
}

// Set implements store.KV with a durable write.
func (a *Adapter) Set(key, value []byte) error {
	return a.db.SetSync(key, value)
}

// WriteBatch implements store.KV. All pairs commit in one synced batch.
func (a *Adapter) WriteBatch(pairs []store.Pair) error {
	batch := a.db.NewBatch()
	defer batch.Close()
	for _, p := range pairs {
		if err := batch.Set(p.Key, p.Value); err != nil {
			return err
		}
	}
	return batch.WriteSync()
}

// Close releases the underlying database.
func (a *Adapter) Close() error {
	return a.db.Close()
}
