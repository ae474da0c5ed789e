// Copyright 2026 Provenact Labs
//
// Event store: content-addressed event blobs plus materialized snapshots.
//
// Layout (all JSON values):
//
//   event:<eventId>        -> canonical event wire form
//   itemlog:<itemId>       -> []eventId, chain order
//   item:<itemId>          -> state.Item snapshot
//   mfr:<manufacturerId>   -> state.Manufacturer
//   mfrhead:<mfrId>        -> eventId of the registration event (chain head)
//   auth:<authenticatorId> -> state.Authenticator
//   attest:<itemId>        -> []attestation.Attestation
//   seq:<n> (big-endian)   -> eventId, global admission order
//   seq:next               -> next sequence number
//   checkpoint:<id>        -> opaque checkpoint record
//   checkpoint:latest      -> id of the newest checkpoint
//
// All mutations to one item happen under that item's lock; the admission
// pipeline therefore sees a consistent (snapshot, log) pair. Writes that
// span several keys go through WriteBatch so an event is never persisted
// without its snapshot update.

package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/provenact/operator-node/pkg/attestation"
	"github.com/provenact/operator-node/pkg/event"
	"github.com/provenact/operator-node/pkg/state"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEvent = errors.New("event already stored")
)

const (
	prefixEvent      = "event:"
	prefixItemLog    = "itemlog:"
	prefixItem       = "item:"
	prefixMfr        = "mfr:"
	prefixMfrHead    = "mfrhead:"
	prefixAuth       = "auth:"
	prefixAttest     = "attest:"
	prefixSeq        = "seq:"
	keySeqNext       = "seq:next"
	prefixCheckpoint = "checkpoint:"
	keyCheckpointTip = "checkpoint:latest"
)

// Store is the node's only mutable process-wide resource.
type Store struct {
	kv KV

	mu        sync.Mutex
	itemLocks map[string]*sync.Mutex
	seqMu     sync.Mutex
	regMu     sync.Mutex
}

// New creates a Store over the given KV backend.
func New(kv KV) *Store {
	return &Store{
		kv:        kv,
		itemLocks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the exclusive lock serializing one item's mutations.
func (s *Store) lockFor(itemID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.itemLocks[itemID]
	if !ok {
		l = &sync.Mutex{}
		s.itemLocks[itemID] = l
	}
	return l
}

// LockItems acquires the locks for the given items in itemId order and
// returns an unlock function. Cross-item operations must go through here to
// keep lock acquisition deadlock-free.
func (s *Store) LockItems(itemIDs ...string) func() {
	sorted := append([]string(nil), itemIDs...)
	sort.Strings(sorted)
	locks := make([]*sync.Mutex, 0, len(sorted))
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		l := s.lockFor(id)
		l.Lock()
		locks = append(locks, l)
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// ====== Sequence bookkeeping ======

func seqKey(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return append([]byte(prefixSeq), b...)
}

func (s *Store) nextSeq() (uint64, error) {
	b, err := s.kv.Get([]byte(keySeqNext))
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence counter: %w", err)
	}
	if len(b) == 0 {
		return 1, nil
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("corrupt sequence counter: %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// EventCount returns the number of admitted events.
func (s *Store) EventCount() (uint64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	n, err := s.nextSeq()
	if err != nil {
		return 0, err
	}
	return n - 1, nil
}

// Range returns event ids in admission order, both bounds inclusive,
// 1-based. An exhausted range returns the ids found.
func (s *Store) Range(from, to uint64) ([]string, error) {
	if from == 0 {
		from = 1
	}
	if to < from {
		return nil, nil
	}
	ids := make([]string, 0, to-from+1)
	for n := from; n <= to; n++ {
		b, err := s.kv.Get(seqKey(n))
		if err != nil {
			return nil, fmt.Errorf("failed to read sequence %d: %w", n, err)
		}
		if len(b) == 0 {
			break
		}
		ids = append(ids, string(b))
	}
	return ids, nil
}

// ====== Event blobs ======

// Event loads one stored event by id.
func (s *Store) Event(eventID string) (*event.Event, error) {
	b, err := s.kv.Get([]byte(prefixEvent + eventID))
	if err != nil {
		return nil, fmt.Errorf("failed to read event %s: %w", eventID, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var ev event.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", eventID, err)
	}
	return &ev, nil
}

// HasEvent reports whether an event id is already stored.
func (s *Store) HasEvent(eventID string) (bool, error) {
	b, err := s.kv.Get([]byte(prefixEvent + eventID))
	if err != nil {
		return false, err
	}
	return len(b) > 0, nil
}

// appendEventPairs builds the common batch entries for persisting an event:
// the blob plus its global sequence slot. Caller holds seqMu.
func (s *Store) appendEventPairs(ev *event.Event, pairs []Pair) ([]Pair, error) {
	blob, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	next, err := s.nextSeq()
	if err != nil {
		return nil, err
	}
	counter := make([]byte, 8)
	binary.BigEndian.PutUint64(counter, next+1)

	pairs = append(pairs,
		Pair{Key: []byte(prefixEvent + ev.EventID), Value: blob},
		Pair{Key: seqKey(next), Value: []byte(ev.EventID)},
		Pair{Key: []byte(keySeqNext), Value: counter},
	)
	return pairs, nil
}

func marshalPair(key string, v any) (Pair, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Pair{}, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return Pair{Key: []byte(key), Value: b}, nil
}

// ====== Registration appends ======

// AppendManufacturerRegistration persists a registration event and its
// manufacturer record atomically.
func (s *Store) AppendManufacturerRegistration(ev *event.Event, mfr *state.Manufacturer) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	if dup, err := s.HasEvent(ev.EventID); err != nil {
		return err
	} else if dup {
		return ErrDuplicateEvent
	}

	pairs, err := s.appendEventPairs(ev, nil)
	if err != nil {
		return err
	}
	mfrPair, err := marshalPair(prefixMfr+mfr.ManufacturerID, mfr)
	if err != nil {
		return err
	}
	pairs = append(pairs,
		mfrPair,
		Pair{Key: []byte(prefixMfrHead + mfr.ManufacturerID), Value: []byte(ev.EventID)},
	)
	return s.kv.WriteBatch(pairs)
}

// AppendAuthenticatorRegistration persists a registration event and its
// authenticator record atomically.
func (s *Store) AppendAuthenticatorRegistration(ev *event.Event, auth *state.Authenticator) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	if dup, err := s.HasEvent(ev.EventID); err != nil {
		return err
	} else if dup {
		return ErrDuplicateEvent
	}

	pairs, err := s.appendEventPairs(ev, nil)
	if err != nil {
		return err
	}
	authPair, err := marshalPair(prefixAuth+auth.AuthenticatorID, auth)
	if err != nil {
		return err
	}
	return s.kv.WriteBatch(append(pairs, authPair))
}

// ====== Item appends ======

// AppendMint persists a mint event, the new item snapshot, and the item log
// opened with the manufacturer's registration event as chain head.
func (s *Store) AppendMint(ev *event.Event, item *state.Item, mfrHeadEventID string) error {
	lock := s.lockFor(item.ItemID)
	lock.Lock()
	defer lock.Unlock()
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	if dup, err := s.HasEvent(ev.EventID); err != nil {
		return err
	} else if dup {
		return ErrDuplicateEvent
	}

	pairs, err := s.appendEventPairs(ev, nil)
	if err != nil {
		return err
	}
	itemPair, err := marshalPair(prefixItem+item.ItemID, item)
	if err != nil {
		return err
	}
	logPair, err := marshalPair(prefixItemLog+item.ItemID, []string{mfrHeadEventID, ev.EventID})
	if err != nil {
		return err
	}
	return s.kv.WriteBatch(append(pairs, itemPair, logPair))
}

// AppendItemEvent persists an item-bearing event, the updated snapshot, the
// extended log, and (for ITEM_AUTHENTICATED) the attestation index entry in
// one atomic batch.
func (s *Store) AppendItemEvent(ev *event.Event, item *state.Item, att *attestation.Attestation) error {
	lock := s.lockFor(item.ItemID)
	lock.Lock()
	defer lock.Unlock()
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	if dup, err := s.HasEvent(ev.EventID); err != nil {
		return err
	} else if dup {
		return ErrDuplicateEvent
	}

	logIDs, err := s.eventLog(item.ItemID)
	if err != nil {
		return err
	}

	pairs, err := s.appendEventPairs(ev, nil)
	if err != nil {
		return err
	}
	itemPair, err := marshalPair(prefixItem+item.ItemID, item)
	if err != nil {
		return err
	}
	logPair, err := marshalPair(prefixItemLog+item.ItemID, append(logIDs, ev.EventID))
	if err != nil {
		return err
	}
	pairs = append(pairs, itemPair, logPair)

	if att != nil {
		existing, err := s.Attestations(item.ItemID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		attPair, err := marshalPair(prefixAttest+item.ItemID, append(existing, *att))
		if err != nil {
			return err
		}
		pairs = append(pairs, attPair)
	}
	return s.kv.WriteBatch(pairs)
}

// ====== Reads ======

func (s *Store) eventLog(itemID string) ([]string, error) {
	b, err := s.kv.Get([]byte(prefixItemLog + itemID))
	if err != nil {
		return nil, fmt.Errorf("failed to read item log %s: %w", itemID, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode item log %s: %w", itemID, err)
	}
	return ids, nil
}

// Snapshot returns the current item record.
func (s *Store) Snapshot(itemID string) (*state.Item, error) {
	b, err := s.kv.Get([]byte(prefixItem + itemID))
	if err != nil {
		return nil, fmt.Errorf("failed to read item %s: %w", itemID, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var item state.Item
	if err := json.Unmarshal(b, &item); err != nil {
		return nil, fmt.Errorf("failed to decode item %s: %w", itemID, err)
	}
	return &item, nil
}

// Events returns the item's full event chain in order, chain head first.
func (s *Store) Events(itemID string) ([]*event.Event, error) {
	ids, err := s.eventLog(itemID)
	if err != nil {
		return nil, err
	}
	events := make([]*event.Event, 0, len(ids))
	for _, id := range ids {
		ev, err := s.Event(id)
		if err != nil {
			return nil, fmt.Errorf("item log references missing event %s: %w", id, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// LatestHeight returns the height of the item's newest event, 0 when the
// item is unknown.
func (s *Store) LatestHeight(itemID string) (uint64, error) {
	item, err := s.Snapshot(itemID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return item.LastEventHeight, nil
}

// Manufacturer returns a manufacturer record.
func (s *Store) Manufacturer(id string) (*state.Manufacturer, error) {
	b, err := s.kv.Get([]byte(prefixMfr + id))
	if err != nil {
		return nil, fmt.Errorf("failed to read manufacturer %s: %w", id, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var m state.Manufacturer
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manufacturer %s: %w", id, err)
	}
	return &m, nil
}

// ManufacturerHead returns the event id of a manufacturer's registration.
func (s *Store) ManufacturerHead(id string) (string, error) {
	b, err := s.kv.Get([]byte(prefixMfrHead + id))
	if err != nil {
		return "", fmt.Errorf("failed to read manufacturer head %s: %w", id, err)
	}
	if len(b) == 0 {
		return "", ErrNotFound
	}
	return string(b), nil
}

// Authenticator returns an authenticator record.
func (s *Store) Authenticator(id string) (*state.Authenticator, error) {
	b, err := s.kv.Get([]byte(prefixAuth + id))
	if err != nil {
		return nil, fmt.Errorf("failed to read authenticator %s: %w", id, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var a state.Authenticator
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("failed to decode authenticator %s: %w", id, err)
	}
	return &a, nil
}

// Attestations returns the attestations indexed for an item, oldest first.
func (s *Store) Attestations(itemID string) ([]attestation.Attestation, error) {
	b, err := s.kv.Get([]byte(prefixAttest + itemID))
	if err != nil {
		return nil, fmt.Errorf("failed to read attestations %s: %w", itemID, err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	var atts []attestation.Attestation
	if err := json.Unmarshal(b, &atts); err != nil {
		return nil, fmt.Errorf("failed to decode attestations %s: %w", itemID, err)
	}
	return atts, nil
}

// ====== Checkpoint records ======

// PutCheckpoint stores an opaque checkpoint record and moves the tip.
func (s *Store) PutCheckpoint(checkpointID string, record []byte) error {
	return s.kv.WriteBatch([]Pair{
		{Key: []byte(prefixCheckpoint + checkpointID), Value: record},
		{Key: []byte(keyCheckpointTip), Value: []byte(checkpointID)},
	})
}

// Checkpoint returns a stored checkpoint record.
func (s *Store) Checkpoint(checkpointID string) ([]byte, error) {
	b, err := s.kv.Get([]byte(prefixCheckpoint + checkpointID))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", checkpointID, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	return b, nil
}

// LatestCheckpoint returns the newest checkpoint record, ErrNotFound before
// the first checkpoint.
func (s *Store) LatestCheckpoint() ([]byte, error) {
	id, err := s.kv.Get([]byte(keyCheckpointTip))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint tip: %w", err)
	}
	if len(id) == 0 {
		return nil, ErrNotFound
	}
	return s.Checkpoint(string(id))
}
