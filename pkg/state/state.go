// Copyright 2026 Provenact Labs
//
// Item state machine and registry records.
//
// The transition table is the single authority on which event types are
// legal in which state. Preconditions that need registry or escrow context
// (manufacturer ACTIVE, seller owns the item, offer unexpired) live in the
// admission pipeline; this package only answers "is (state, event) a legal
// edge and where does it lead".

package state

import (
	"errors"

	"github.com/provenact/operator-node/pkg/event"
)

// ItemState is an item's position in the custody automaton.
type ItemState string

const (
	StateMinted         ItemState = "MINTED"
	StateActiveHeld     ItemState = "ACTIVE_HELD"
	StateLockedInEscrow ItemState = "LOCKED_IN_ESCROW"
	StateInCustody      ItemState = "IN_CUSTODY"
	StateBurned         ItemState = "BURNED"
)

// Status is the lifecycle of a manufacturer or authenticator record.
// Status only moves forward: ACTIVE -> SUSPENDED -> REVOKED.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusRevoked   Status = "REVOKED"
)

var statusRank = map[Status]int{
	StatusActive:    0,
	StatusSuspended: 1,
	StatusRevoked:   2,
}

var ErrStatusRegression = errors.New("status may only move forward")

// AdvanceStatus validates a forward-only status move.
func AdvanceStatus(from, to Status) error {
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	if !okFrom || !okTo || toRank < fromRank {
		return ErrStatusRegression
	}
	return nil
}

// Manufacturer is a registered item issuer.
type Manufacturer struct {
	ManufacturerID  string `json:"manufacturer_id"`
	Name            string `json:"name"`
	IssuerPublicKey string `json:"issuer_public_key"`
	Status          Status `json:"status"`
	RegisteredAt    int64  `json:"registered_at"`
}

// Authenticator is a registered attestation issuer.
type Authenticator struct {
	AuthenticatorID string `json:"authenticator_id"`
	Name            string `json:"name"`
	PublicKey       string `json:"public_key"`
	Specialization  string `json:"specialization"`
	Status          Status `json:"status"`
	RegisteredAt    int64  `json:"registered_at"`
}

// Lock captures the active escrow terms while an item is LOCKED_IN_ESCROW.
type Lock struct {
	OfferID         string `json:"offer_id"`
	SellerWallet    string `json:"seller_wallet"`
	BuyerWallet     string `json:"buyer_wallet"`
	PriceSats       uint64 `json:"price_sats"`
	ExpiryTimestamp int64  `json:"expiry_timestamp"`
}

// Item is the materialized snapshot of one item's chain.
type Item struct {
	ItemID             string    `json:"item_id"`
	ManufacturerID     string    `json:"manufacturer_id"`
	MetadataHash       string    `json:"metadata_hash"`
	CurrentState       ItemState `json:"current_state"`
	CurrentOwnerWallet string    `json:"current_owner_wallet,omitempty"`
	MintedAt           int64     `json:"minted_at"`
	LastEventHash      string    `json:"last_event_hash"`
	LastEventHeight    uint64    `json:"last_event_height"`
	ActiveLock         *Lock     `json:"active_lock,omitempty"`
	CustodianID        string    `json:"custodian_id,omitempty"`
}

// transitions maps (state, event type) to the successor state.
var transitions = map[ItemState]map[event.Type]ItemState{
	StateMinted: {
		event.TypeItemAssigned:       StateActiveHeld,
		event.TypeItemMovedToCustody: StateInCustody,
		event.TypeItemBurned:         StateBurned,
	},
	StateActiveHeld: {
		event.TypeItemLocked:         StateLockedInEscrow,
		event.TypeItemMovedToCustody: StateInCustody,
		event.TypeItemBurned:         StateBurned,
	},
	StateLockedInEscrow: {
		event.TypeItemSettled:         StateActiveHeld,
		event.TypeItemUnlockedExpired: StateActiveHeld,
		event.TypeItemBurned:          StateBurned,
	},
	StateInCustody: {
		event.TypeItemAssigned: StateActiveHeld,
		event.TypeItemBurned:   StateBurned,
	},
	// BURNED is terminal: no outgoing edges.
	StateBurned: {},
}

// Next returns the successor state for (current, eventType), or false when
// the edge is not in the table. ITEM_AUTHENTICATED is legal in every
// non-terminal state and leaves the state unchanged.
func Next(current ItemState, t event.Type) (ItemState, bool) {
	if t == event.TypeItemAuthenticated {
		if current == StateBurned {
			return "", false
		}
		return current, true
	}
	next, ok := transitions[current][t]
	return next, ok
}

// Apply advances an item snapshot for an already-validated event. It updates
// state, owner, lock and custody bookkeeping, and the chain tail. It does NOT
// re-check preconditions; callers run the admission pipeline first.
func Apply(item *Item, ev *event.Event) error {
	next, ok := Next(item.CurrentState, ev.EventType)
	if !ok {
		return errors.New("illegal transition")
	}

	switch p := ev.Payload.(type) {
	case *event.ItemAssigned:
		item.CurrentOwnerWallet = p.OwnerWallet
		item.CustodianID = ""
	case *event.ItemLocked:
		item.ActiveLock = &Lock{
			OfferID:         p.OfferID,
			SellerWallet:    p.SellerWallet,
			BuyerWallet:     p.BuyerWallet,
			PriceSats:       p.PriceSats,
			ExpiryTimestamp: p.ExpiryTimestamp,
		}
	case *event.ItemSettled:
		item.CurrentOwnerWallet = p.BuyerWallet
		item.ActiveLock = nil
	case *event.ItemUnlockedExpired:
		item.ActiveLock = nil
	case *event.ItemMovedToCustody:
		item.CustodianID = p.CustodianID
	case *event.ItemBurned:
		item.ActiveLock = nil
	}

	item.CurrentState = next
	// Attestations leave the state untouched but still advance the chain tail:
	// ITEM_AUTHENTICATED is a first-class chained event.
	item.LastEventHash = ev.EventID
	item.LastEventHeight = ev.Height
	return nil
}
