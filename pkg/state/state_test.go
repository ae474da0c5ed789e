// Copyright 2026 Provenact Labs
//
// State machine tests.

package state

import (
	"testing"

	"github.com/provenact/operator-node/pkg/event"
)

func TestNext_TransitionTable(t *testing.T) {
	cases := []struct {
		from ItemState
		ev   event.Type
		to   ItemState
		ok   bool
	}{
		{StateMinted, event.TypeItemAssigned, StateActiveHeld, true},
		{StateMinted, event.TypeItemMovedToCustody, StateInCustody, true},
		{StateMinted, event.TypeItemBurned, StateBurned, true},
		{StateMinted, event.TypeItemLocked, "", false},
		{StateMinted, event.TypeItemSettled, "", false},

		{StateActiveHeld, event.TypeItemLocked, StateLockedInEscrow, true},
		{StateActiveHeld, event.TypeItemMovedToCustody, StateInCustody, true},
		{StateActiveHeld, event.TypeItemBurned, StateBurned, true},
		{StateActiveHeld, event.TypeItemAssigned, "", false},

		{StateLockedInEscrow, event.TypeItemSettled, StateActiveHeld, true},
		{StateLockedInEscrow, event.TypeItemUnlockedExpired, StateActiveHeld, true},
		{StateLockedInEscrow, event.TypeItemBurned, StateBurned, true},
		{StateLockedInEscrow, event.TypeItemLocked, "", false},
		{StateLockedInEscrow, event.TypeItemMovedToCustody, "", false},

		{StateInCustody, event.TypeItemAssigned, StateActiveHeld, true},
		{StateInCustody, event.TypeItemBurned, StateBurned, true},
		{StateInCustody, event.TypeItemLocked, "", false},

		{StateBurned, event.TypeItemAssigned, "", false},
		{StateBurned, event.TypeItemBurned, "", false},
		{StateBurned, event.TypeItemAuthenticated, "", false},

		// Attestations are state-preserving everywhere else.
		{StateMinted, event.TypeItemAuthenticated, StateMinted, true},
		{StateActiveHeld, event.TypeItemAuthenticated, StateActiveHeld, true},
		{StateLockedInEscrow, event.TypeItemAuthenticated, StateLockedInEscrow, true},
		{StateInCustody, event.TypeItemAuthenticated, StateInCustody, true},
	}

	for _, tc := range cases {
		got, ok := Next(tc.from, tc.ev)
		if ok != tc.ok {
			t.Errorf("(%s, %s): legality mismatch: got %v, want %v", tc.from, tc.ev, ok, tc.ok)
			continue
		}
		if ok && got != tc.to {
			t.Errorf("(%s, %s): successor mismatch: got %s, want %s", tc.from, tc.ev, got, tc.to)
		}
	}
}

func TestApply_SettleTransfersOwnership(t *testing.T) {
	item := &Item{
		ItemID:             "item-1",
		CurrentState:       StateLockedInEscrow,
		CurrentOwnerWallet: "1Seller",
		ActiveLock: &Lock{
			OfferID: "offer-abc", SellerWallet: "1Seller", BuyerWallet: "1Buyer",
			PriceSats: 50_000_000, ExpiryTimestamp: 2000,
		},
		LastEventHeight: 4,
	}

	ev := &event.Event{
		EventID: "ee", EventType: event.TypeItemSettled, ItemID: "item-1",
		Height: 5, Timestamp: 1500,
		Payload: &event.ItemSettled{OfferID: "offer-abc", BuyerWallet: "1Buyer", PriceSats: 50_000_000},
	}
	if err := Apply(item, ev); err != nil {
		t.Fatalf("failed to apply settle: %v", err)
	}

	if item.CurrentState != StateActiveHeld {
		t.Errorf("state mismatch: got %s", item.CurrentState)
	}
	if item.CurrentOwnerWallet != "1Buyer" {
		t.Errorf("owner mismatch: got %s", item.CurrentOwnerWallet)
	}
	if item.ActiveLock != nil {
		t.Error("lock not cleared after settlement")
	}
	if item.LastEventHeight != 5 || item.LastEventHash != "ee" {
		t.Error("chain tail not advanced")
	}
}

func TestApply_UnlockKeepsOwner(t *testing.T) {
	item := &Item{
		CurrentState:       StateLockedInEscrow,
		CurrentOwnerWallet: "1Seller",
		ActiveLock:         &Lock{OfferID: "offer-abc", ExpiryTimestamp: 1000},
	}
	ev := &event.Event{
		EventID: "ff", EventType: event.TypeItemUnlockedExpired, Height: 5,
		Payload: &event.ItemUnlockedExpired{OfferID: "offer-abc", ExpiryTimestamp: 1000},
	}
	if err := Apply(item, ev); err != nil {
		t.Fatalf("failed to apply unlock: %v", err)
	}
	if item.CurrentOwnerWallet != "1Seller" {
		t.Error("owner changed on expiry unlock")
	}
	if item.ActiveLock != nil {
		t.Error("lock not cleared on expiry unlock")
	}
}

func TestApply_BurnedIsTerminal(t *testing.T) {
	item := &Item{CurrentState: StateBurned}
	ev := &event.Event{
		EventType: event.TypeItemAssigned,
		Payload:   &event.ItemAssigned{OwnerWallet: "1X"},
	}
	if err := Apply(item, ev); err == nil {
		t.Error("expected error applying event to burned item")
	}
}

func TestAdvanceStatus_ForwardOnly(t *testing.T) {
	if err := AdvanceStatus(StatusActive, StatusSuspended); err != nil {
		t.Errorf("forward move rejected: %v", err)
	}
	if err := AdvanceStatus(StatusActive, StatusRevoked); err != nil {
		t.Errorf("forward move rejected: %v", err)
	}
	if err := AdvanceStatus(StatusSuspended, StatusSuspended); err != nil {
		t.Errorf("no-op move rejected: %v", err)
	}
	if err := AdvanceStatus(StatusRevoked, StatusActive); err == nil {
		t.Error("backward move accepted")
	}
	if err := AdvanceStatus(StatusSuspended, StatusActive); err == nil {
		t.Error("backward move accepted")
	}
}
