// Copyright 2026 Provenact Labs
//
// Event store tests against the in-memory KV.

package store

import (
	"errors"
	"testing"

	"github.com/provenact/operator-node/pkg/attestation"
	"github.com/provenact/operator-node/pkg/event"
	"github.com/provenact/operator-node/pkg/state"
)

func mfrRegistration(t *testing.T) (*event.Event, *state.Manufacturer) {
	t.Helper()
	ev := &event.Event{
		EventType:         event.TypeManufacturerRegistered,
		Height:            1,
		Timestamp:         1000,
		PreviousEventHash: event.ZeroHash,
		Payload: &event.ManufacturerRegistered{
			ManufacturerID: "mfr-1", Name: "Luxury Watch Co.",
			IssuerPublicKey: "02aa", RegistrationFeeSats: 10_000,
		},
	}
	if err := ev.Finalize(); err != nil {
		t.Fatalf("failed to finalize registration: %v", err)
	}
	mfr := &state.Manufacturer{
		ManufacturerID: "mfr-1", Name: "Luxury Watch Co.",
		IssuerPublicKey: "02aa", Status: state.StatusActive, RegisteredAt: 1000,
	}
	return ev, mfr
}

func mintEvent(t *testing.T, prev string) (*event.Event, *state.Item) {
	t.Helper()
	ev := &event.Event{
		EventType:         event.TypeItemMinted,
		Height:            2,
		Timestamp:         2000,
		PreviousEventHash: prev,
		Payload: &event.ItemMinted{
			ManufacturerID: "mfr-1", MetadataHash: "ab", MintingFeeSats: 5000,
		},
	}
	if err := ev.Finalize(); err != nil {
		t.Fatalf("failed to finalize mint: %v", err)
	}
	itemID := event.ComputeItemID("mfr-1", "ab", 2000)
	ev.ItemID = itemID
	if err := ev.Finalize(); err != nil {
		t.Fatalf("failed to refinalize mint: %v", err)
	}
	item := &state.Item{
		ItemID: itemID, ManufacturerID: "mfr-1", MetadataHash: "ab",
		CurrentState: state.StateMinted, MintedAt: 2000,
		LastEventHash: ev.EventID, LastEventHeight: 2,
	}
	return ev, item
}

func TestStore_RegistrationAndMint(t *testing.T) {
	s := New(NewMemoryKV())

	regEv, mfr := mfrRegistration(t)
	if err := s.AppendManufacturerRegistration(regEv, mfr); err != nil {
		t.Fatalf("failed to append registration: %v", err)
	}

	got, err := s.Manufacturer("mfr-1")
	if err != nil {
		t.Fatalf("failed to read manufacturer: %v", err)
	}
	if got.Status != state.StatusActive {
		t.Errorf("status mismatch: got %s", got.Status)
	}

	head, err := s.ManufacturerHead("mfr-1")
	if err != nil {
		t.Fatalf("failed to read head: %v", err)
	}
	if head != regEv.EventID {
		t.Error("manufacturer head does not point at registration event")
	}

	mintEv, item := mintEvent(t, regEv.EventID)
	if err := s.AppendMint(mintEv, item, regEv.EventID); err != nil {
		t.Fatalf("failed to append mint: %v", err)
	}

	snap, err := s.Snapshot(item.ItemID)
	if err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	if snap.CurrentState != state.StateMinted || snap.LastEventHeight != 2 {
		t.Errorf("snapshot mismatch: %+v", snap)
	}

	events, err := s.Events(item.ItemID)
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("event chain length mismatch: got %d, want 2", len(events))
	}
	if events[0].EventID != regEv.EventID || events[1].EventID != mintEv.EventID {
		t.Error("event chain order wrong")
	}
}

func TestStore_DuplicateEventRejected(t *testing.T) {
	s := New(NewMemoryKV())
	regEv, mfr := mfrRegistration(t)
	if err := s.AppendManufacturerRegistration(regEv, mfr); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := s.AppendManufacturerRegistration(regEv, mfr); !errors.Is(err, ErrDuplicateEvent) {
		t.Errorf("expected ErrDuplicateEvent, got %v", err)
	}
}

func TestStore_ItemEventAppendAndAttestationIndex(t *testing.T) {
	s := New(NewMemoryKV())
	regEv, mfr := mfrRegistration(t)
	_ = s.AppendManufacturerRegistration(regEv, mfr)
	mintEv, item := mintEvent(t, regEv.EventID)
	_ = s.AppendMint(mintEv, item, regEv.EventID)

	att := &attestation.Attestation{
		AttestationID: "att-1", ItemID: item.ItemID, AuthenticatorID: "auth-1",
		Confidence: 0.95, Scope: "full", IssuedAt: 3000,
	}
	ev := &event.Event{
		EventType: event.TypeItemAuthenticated, ItemID: item.ItemID,
		Height: 3, Timestamp: 3000, PreviousEventHash: mintEv.EventID,
		Payload: &event.ItemAuthenticated{Attestation: att},
	}
	if err := ev.Finalize(); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	item.LastEventHash = ev.EventID
	item.LastEventHeight = 3

	if err := s.AppendItemEvent(ev, item, att); err != nil {
		t.Fatalf("failed to append item event: %v", err)
	}

	atts, err := s.Attestations(item.ItemID)
	if err != nil {
		t.Fatalf("failed to read attestations: %v", err)
	}
	if len(atts) != 1 || atts[0].AuthenticatorID != "auth-1" {
		t.Errorf("attestation index mismatch: %+v", atts)
	}

	h, err := s.LatestHeight(item.ItemID)
	if err != nil {
		t.Fatalf("failed to read height: %v", err)
	}
	if h != 3 {
		t.Errorf("height mismatch: got %d, want 3", h)
	}
}

func TestStore_SequenceAndRange(t *testing.T) {
	s := New(NewMemoryKV())
	regEv, mfr := mfrRegistration(t)
	_ = s.AppendManufacturerRegistration(regEv, mfr)
	mintEv, item := mintEvent(t, regEv.EventID)
	_ = s.AppendMint(mintEv, item, regEv.EventID)

	count, err := s.EventCount()
	if err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if count != 2 {
		t.Errorf("event count mismatch: got %d, want 2", count)
	}

	ids, err := s.Range(1, 10)
	if err != nil {
		t.Fatalf("failed to read range: %v", err)
	}
	if len(ids) != 2 || ids[0] != regEv.EventID || ids[1] != mintEv.EventID {
		t.Errorf("range mismatch: %v", ids)
	}
}

func TestStore_LatestHeightUnknownItem(t *testing.T) {
	s := New(NewMemoryKV())
	h, err := s.LatestHeight("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != 0 {
		t.Errorf("expected 0 for unknown item, got %d", h)
	}
}

func TestStore_CheckpointTip(t *testing.T) {
	s := New(NewMemoryKV())
	if _, err := s.LatestCheckpoint(); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before first checkpoint, got %v", err)
	}
	if err := s.PutCheckpoint("cp-1", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("failed to put checkpoint: %v", err)
	}
	if err := s.PutCheckpoint("cp-2", []byte(`{"n":2}`)); err != nil {
		t.Fatalf("failed to put checkpoint: %v", err)
	}
	b, err := s.LatestCheckpoint()
	if err != nil {
		t.Fatalf("failed to read latest checkpoint: %v", err)
	}
	if string(b) != `{"n":2}` {
		t.Errorf("latest checkpoint mismatch: %s", b)
	}
}
