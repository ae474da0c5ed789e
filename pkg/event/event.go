// Copyright 2026 Provenact Labs
//
// Protocol event model.
//
// Every record in an item's history is an Event: a shared header plus one
// typed payload variant. The event id is the SHA256 of the canonical encoding
// of the header and payload, excluding the id itself and every signature
// field: signatures are made OVER the id, so they cannot live under it. The
// anchor tx hash is likewise excluded: it is stamped after Bitcoin
// confirmation, long after the id is fixed.

package event

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/provenact/operator-node/pkg/canonical"
	"github.com/provenact/operator-node/pkg/keys"
)

// Type tags each event variant.
type Type string

const (
	TypeManufacturerRegistered  Type = "MANUFACTURER_REGISTERED"
	TypeItemMinted              Type = "ITEM_MINTED"
	TypeItemAssigned            Type = "ITEM_ASSIGNED"
	TypeItemLocked              Type = "ITEM_LOCKED"
	TypeItemSettled             Type = "ITEM_SETTLED"
	TypeItemUnlockedExpired     Type = "ITEM_UNLOCKED_EXPIRED"
	TypeItemMovedToCustody      Type = "ITEM_MOVED_TO_CUSTODY"
	TypeItemBurned              Type = "ITEM_BURNED"
	TypeAuthenticatorRegistered Type = "AUTHENTICATOR_REGISTERED"
	TypeItemAuthenticated       Type = "ITEM_AUTHENTICATED"
)

// ZeroHash is the previous-event link of a chain-opening event.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrNoPayload        = errors.New("event has no payload")
	ErrBadEventID       = errors.New("event id is not a 32-byte hex hash")
)

// ActorSignature is a signature by a non-operator principal (manufacturer,
// current owner, authenticator) over the event id.
type ActorSignature struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// OperatorSignature is one federation member's co-signature over the event id.
type OperatorSignature struct {
	OperatorID string `json:"operator_id"`
	PublicKey  string `json:"public_key"`
	Signature  string `json:"signature"`
}

// Payload is the typed body of one event variant.
type Payload interface {
	EventType() Type
	// CanonicalMap returns the payload's hashed fields. Signature fields
	// inside payloads (owner acceptance) are excluded.
	CanonicalMap() map[string]any
}

// Event is the shared header plus one payload variant.
type Event struct {
	EventID            string              `json:"event_id"`
	EventType          Type                `json:"event_type"`
	ItemID             string              `json:"item_id,omitempty"`
	Height             uint64              `json:"height"`
	Timestamp          int64               `json:"timestamp"`
	PreviousEventHash  string              `json:"previous_event_hash"`
	ActorSignature     *ActorSignature     `json:"actor_signature,omitempty"`
	OperatorSignatures []OperatorSignature `json:"operator_signatures,omitempty"`
	AnchorTxHash       string              `json:"anchor_tx_hash,omitempty"`
	Payload            Payload             `json:"-"`
}

// CanonicalMap returns the id preimage: header and payload fields minus
// {event_id, actor_signature, operator_signatures, anchor_tx_hash}.
func (e *Event) CanonicalMap() map[string]any {
	m := map[string]any{
		"event_type":          string(e.EventType),
		"height":              e.Height,
		"timestamp":           e.Timestamp,
		"previous_event_hash": e.PreviousEventHash,
	}
	if e.ItemID != "" {
		m["item_id"] = e.ItemID
	}
	if e.Payload != nil {
		m["payload"] = map[string]any(e.Payload.CanonicalMap())
	}
	return m
}

// ComputeID returns the hex event id for the event's current content.
func (e *Event) ComputeID() (string, error) {
	if e.Payload == nil {
		return "", ErrNoPayload
	}
	h, err := canonical.Hash(e.CanonicalMap())
	if err != nil {
		return "", fmt.Errorf("failed to hash event: %w", err)
	}
	return hex.EncodeToString(h[:]), nil
}

// Finalize computes and stores the event id.
func (e *Event) Finalize() error {
	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	e.EventID = id
	return nil
}

// SigningDigest returns the 32 raw bytes of the stored event id: the
// message actors and operators sign.
func (e *Event) SigningDigest() ([]byte, error) {
	b, err := hex.DecodeString(e.EventID)
	if err != nil || len(b) != 32 {
		return nil, ErrBadEventID
	}
	return b, nil
}

// SignAsActor attaches the actor signature.
func (e *Event) SignAsActor(kp *keys.KeyPair) error {
	digest, err := e.SigningDigest()
	if err != nil {
		return err
	}
	sig, err := kp.Sign(digest)
	if err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}
	e.ActorSignature = &ActorSignature{PublicKey: kp.PublicHex(), Signature: sig}
	return nil
}

// SignAsOperator returns this operator's co-signature over the event id.
func (e *Event) SignAsOperator(operatorID string, kp *keys.KeyPair) (*OperatorSignature, error) {
	digest, err := e.SigningDigest()
	if err != nil {
		return nil, err
	}
	sig, err := kp.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to co-sign event: %w", err)
	}
	return &OperatorSignature{
		OperatorID: operatorID,
		PublicKey:  kp.PublicHex(),
		Signature:  sig,
	}, nil
}

// AddOperatorSignature appends sig unless the operator already signed.
// Returns true if the signature was added.
func (e *Event) AddOperatorSignature(sig OperatorSignature) bool {
	for _, existing := range e.OperatorSignatures {
		if existing.OperatorID == sig.OperatorID {
			return false
		}
	}
	e.OperatorSignatures = append(e.OperatorSignatures, sig)
	return true
}

// VerifyActorSignature checks the actor signature against the stored id.
func (e *Event) VerifyActorSignature() bool {
	if e.ActorSignature == nil {
		return false
	}
	digest, err := e.SigningDigest()
	if err != nil {
		return false
	}
	return keys.Verify(e.ActorSignature.PublicKey, digest, e.ActorSignature.Signature)
}

// IsItemBearing reports whether the event belongs to an existing item chain.
// Registrations open their own chains; a mint creates the item it names.
func (e *Event) IsItemBearing() bool {
	switch e.EventType {
	case TypeManufacturerRegistered, TypeAuthenticatorRegistered, TypeItemMinted:
		return false
	}
	return true
}

// ComputeItemID derives the item id minted by a given manufacturer:
// SHA256(manufacturerId || metadataHash || mintTimestamp).
func ComputeItemID(manufacturerID, metadataHashHex string, mintTimestampMs int64) string {
	preimage := manufacturerID + metadataHashHex + strconv.FormatInt(mintTimestampMs, 10)
	h := canonical.HashConcat([]byte(preimage))
	return hex.EncodeToString(h)
}
