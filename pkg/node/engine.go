// Copyright 2026 Provenact Labs
//
// Operator engine: validates, co-signs, and admits events, materializes item
// snapshots, and serves proofs. One engine value per node; tests construct
// their own: there is no ambient singleton.

package node

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/provenact/operator-node/pkg/attestation"
	"github.com/provenact/operator-node/pkg/canonical"
	"github.com/provenact/operator-node/pkg/event"
	"github.com/provenact/operator-node/pkg/keys"
	"github.com/provenact/operator-node/pkg/metrics"
	"github.com/provenact/operator-node/pkg/payment"
	"github.com/provenact/operator-node/pkg/registry"
	"github.com/provenact/operator-node/pkg/state"
	"github.com/provenact/operator-node/pkg/store"
)

// Config holds the protocol parameters the engine enforces.
type Config struct {
	OperatorID string

	QuorumM int
	QuorumN int

	MaxFutureClockSkewMs        int64
	MaxPastClockSkewMs          int64
	AttestationMinConfirmations uint32
	ChainID                     string

	Logger *log.Logger
	// Now returns the current time in Unix milliseconds; injectable for tests.
	Now func() int64
	// OnAdmit, when set, observes every admitted event after it is durably
	// persisted. Used for write-behind mirrors; must not block.
	OnAdmit func(ev *event.Event)
}

// DefaultConfig returns the protocol defaults for a 3-of-5 federation.
func DefaultConfig() *Config {
	return &Config{
		QuorumM:                     3,
		QuorumN:                     5,
		MaxFutureClockSkewMs:        5 * 60 * 1000,
		MaxPastClockSkewMs:          24 * 60 * 60 * 1000,
		AttestationMinConfirmations: 1,
		ChainID:                     "bitcoin-mainnet",
	}
}

// Engine is one operator's view of the protocol.
type Engine struct {
	cfg      *Config
	store    *store.Store
	registry *registry.Registry
	signer   *keys.KeyPair
	payments payment.Verifier
	metrics  *metrics.Metrics
	logger   *log.Logger

	// signed tracks candidate chains this operator has already co-signed,
	// keyed by chain position, so a second conflicting candidate at the same
	// position is refused. Entries expire with the past-clock window.
	signedMu sync.Mutex
	signed   map[string]signedCandidate
}

type signedCandidate struct {
	eventID   string
	timestamp int64
}

// New creates an engine. The payment verifier defaults to the static
// shape-only verifier when nil.
func New(cfg *Config, st *store.Store, reg *registry.Registry, signer *keys.KeyPair, payments payment.Verifier, m *metrics.Metrics) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if st == nil || reg == nil || signer == nil {
		return nil, fmt.Errorf("store, registry and signer are required")
	}
	if cfg.QuorumM < 1 || cfg.QuorumM > cfg.QuorumN {
		return nil, fmt.Errorf("quorum M=%d must satisfy 1 <= M <= N=%d", cfg.QuorumM, cfg.QuorumN)
	}
	if reg.Size() != cfg.QuorumN {
		return nil, fmt.Errorf("registry has %d operators, config says N=%d", reg.Size(), cfg.QuorumN)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Operator] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().UnixMilli() }
	}
	if payments == nil {
		payments = &payment.StaticVerifier{MinConfirmations: cfg.AttestationMinConfirmations}
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		registry: reg,
		signer:   signer,
		payments: payments,
		metrics:  m,
		logger:   cfg.Logger,
		signed:   make(map[string]signedCandidate),
	}, nil
}

// Store exposes the engine's event store to the checkpoint engine.
func (e *Engine) Store() *store.Store { return e.store }

// Registry exposes the operator registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// OperatorID returns this node's federation identity.
func (e *Engine) OperatorID() string { return e.cfg.OperatorID }

// QuorumM returns the signature threshold.
func (e *Engine) QuorumM() int { return e.cfg.QuorumM }

// ====== Candidate building (quorum signer entry points) ======

// ProposeEvent fills in height, timestamp, previous hash and id for a
// partial event, then attaches this operator's signature. The result is the
// candidate circulated to peers for co-signing.
func (e *Engine) ProposeEvent(partial *event.Event) (*event.Event, error) {
	if partial == nil || partial.Payload == nil {
		return nil, reject(CategoryFormat, "event has no payload")
	}
	ev := *partial
	ev.EventType = ev.Payload.EventType()
	ev.Timestamp = e.cfg.Now()
	ev.OperatorSignatures = nil
	ev.AnchorTxHash = ""

	switch p := ev.Payload.(type) {
	case *event.ManufacturerRegistered, *event.AuthenticatorRegistered:
		ev.ItemID = ""
		ev.Height = 1
		ev.PreviousEventHash = event.ZeroHash
	case *event.ItemMinted:
		headID, err := e.store.ManufacturerHead(p.ManufacturerID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject(CategoryRegistry, "manufacturer %s is not registered", p.ManufacturerID)
		}
		if err != nil {
			return nil, reject(CategoryStore, "failed to load manufacturer head: %v", err)
		}
		head, err := e.store.Event(headID)
		if err != nil {
			return nil, reject(CategoryStore, "failed to load registration event: %v", err)
		}
		ev.ItemID = event.ComputeItemID(p.ManufacturerID, p.MetadataHash, ev.Timestamp)
		ev.Height = head.Height + 1
		ev.PreviousEventHash = head.EventID
	default:
		item, err := e.store.Snapshot(ev.ItemID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject(CategoryChain, "unknown item %s", ev.ItemID)
		}
		if err != nil {
			return nil, reject(CategoryStore, "failed to load item: %v", err)
		}
		ev.Height = item.LastEventHeight + 1
		ev.PreviousEventHash = item.LastEventHash
	}

	if err := ev.Finalize(); err != nil {
		return nil, reject(CategoryFormat, "failed to compute event id: %v", err)
	}
	sig, err := ev.SignAsOperator(e.cfg.OperatorID, e.signer)
	if err != nil {
		return nil, reject(CategoryStore, "failed to self-sign: %v", err)
	}
	ev.AddOperatorSignature(*sig)
	e.rememberSigned(&ev)

	if e.metrics != nil {
		e.metrics.EventsProposed.Inc()
	}
	return &ev, nil
}

// SignEvent validates a peer candidate and returns this operator's
// co-signature. An operator signs at most one candidate per chain position.
func (e *Engine) SignEvent(ev *event.Event) (*event.OperatorSignature, error) {
	if err := e.validate(ev); err != nil {
		return nil, err
	}

	key := chainPositionKey(ev)
	e.signedMu.Lock()
	e.reapSignedLocked()
	if prior, ok := e.signed[key]; ok && prior.eventID != ev.EventID {
		e.signedMu.Unlock()
		return nil, reject(CategoryQuorum,
			"already co-signed a conflicting candidate at %s", key)
	}
	e.signed[key] = signedCandidate{eventID: ev.EventID, timestamp: ev.Timestamp}
	e.signedMu.Unlock()

	sig, err := ev.SignAsOperator(e.cfg.OperatorID, e.signer)
	if err != nil {
		return nil, reject(CategoryStore, "failed to co-sign: %v", err)
	}
	if e.metrics != nil {
		e.metrics.EventsCoSigned.Inc()
	}
	return sig, nil
}

func (e *Engine) rememberSigned(ev *event.Event) {
	e.signedMu.Lock()
	defer e.signedMu.Unlock()
	e.reapSignedLocked()
	e.signed[chainPositionKey(ev)] = signedCandidate{eventID: ev.EventID, timestamp: ev.Timestamp}
}

// reapSignedLocked evicts entries whose timestamp window has closed; a
// candidate that old can no longer be admitted anywhere.
func (e *Engine) reapSignedLocked() {
	cutoff := e.cfg.Now() - e.cfg.MaxPastClockSkewMs
	for k, v := range e.signed {
		if v.timestamp < cutoff {
			delete(e.signed, k)
		}
	}
}

// chainPositionKey identifies the chain slot a candidate occupies.
func chainPositionKey(ev *event.Event) string {
	chain := ev.ItemID
	if chain == "" {
		switch p := ev.Payload.(type) {
		case *event.ManufacturerRegistered:
			chain = "mfr/" + p.ManufacturerID
		case *event.AuthenticatorRegistered:
			chain = "auth/" + p.AuthenticatorID
		}
	}
	return fmt.Sprintf("%s@%d", chain, ev.Height)
}

// ====== Queries (transport boundary) ======

// GetItem returns the item snapshot, nil when unknown.
func (e *Engine) GetItem(itemID string) (*state.Item, error) {
	item, err := e.store.Snapshot(itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return item, err
}

// GetEvents returns the item's event chain.
func (e *Engine) GetEvents(itemID string) ([]*event.Event, error) {
	events, err := e.store.Events(itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return events, err
}

// GetManufacturer returns a manufacturer record, nil when unknown.
func (e *Engine) GetManufacturer(id string) (*state.Manufacturer, error) {
	m, err := e.store.Manufacturer(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// GetAuthenticator returns an authenticator record, nil when unknown.
func (e *Engine) GetAuthenticator(id string) (*state.Authenticator, error) {
	a, err := e.store.Authenticator(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

// GetAttestations returns the attestations indexed for an item.
func (e *Engine) GetAttestations(itemID string) ([]attestation.Attestation, error) {
	return e.store.Attestations(itemID)
}

// ItemProof is an operator-signed statement of an item's full history.
type ItemProof struct {
	Item       *state.Item    `json:"item"`
	Events     []*event.Event `json:"events"`
	OperatorID string         `json:"operator_id"`
	PublicKey  string         `json:"public_key"`
	Signature  string         `json:"signature"`
}

// ProofDigest is the message an operator signs over an item proof: the
// identifying tuple of the item's chain tip.
func ProofDigest(item *state.Item) ([32]byte, error) {
	return canonical.Hash(map[string]any{
		"item_id":           item.ItemID,
		"current_state":     string(item.CurrentState),
		"last_event_hash":   item.LastEventHash,
		"last_event_height": item.LastEventHeight,
	})
}

// GetItemProof returns the item, its chain, and this operator's signature
// over the chain tip. Unknown items yield a proof with a nil item.
func (e *Engine) GetItemProof(itemID string) (*ItemProof, error) {
	item, err := e.GetItem(itemID)
	if err != nil {
		return nil, err
	}
	proof := &ItemProof{OperatorID: e.cfg.OperatorID, PublicKey: e.signer.PublicHex()}
	if item == nil {
		return proof, nil
	}
	events, err := e.GetEvents(itemID)
	if err != nil {
		return nil, err
	}
	digest, err := ProofDigest(item)
	if err != nil {
		return nil, fmt.Errorf("failed to compute proof digest: %w", err)
	}
	sig, err := e.signer.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign proof: %w", err)
	}
	proof.Item = item
	proof.Events = events
	proof.Signature = sig
	if e.metrics != nil {
		e.metrics.ScansServed.Inc()
	}
	return proof, nil
}

// decodeHash ensures a field is a 32-byte hex hash.
func decodeHash(s string) bool {
	b, err := hex.DecodeString(s)
	return err == nil && len(b) == 32
}
