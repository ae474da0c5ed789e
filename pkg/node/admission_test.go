// Copyright 2026 Provenact Labs
//
// Admission pipeline rejection tests: each check fires with its own error
// category and nothing is persisted.

package node

import (
	"fmt"
	"testing"

	"github.com/provenact/operator-node/pkg/event"
	"github.com/provenact/operator-node/pkg/keys"
	"github.com/provenact/operator-node/pkg/payment"
)

func TestAdmission_IdentityMismatch(t *testing.T) {
	f := newFederation(t)
	eng := f.newEngine("op-1")

	ev := &event.Event{
		EventType:         event.TypeManufacturerRegistered,
		Height:            1,
		Timestamp:         f.clock,
		PreviousEventHash: event.ZeroHash,
		Payload: &event.ManufacturerRegistered{
			ManufacturerID: mfrID, Name: mfrName,
			IssuerPublicKey: f.mfrKey.PublicHex(), RegistrationFeeSats: 1,
		},
	}
	f.quorumSign(ev, f.mfrKey, 3)
	// Tamper after signing: the stored id no longer matches the content.
	ev.Payload.(*event.ManufacturerRegistered).RegistrationFeeSats = 2

	if got := CategoryOf(eng.SubmitEvent(ev)); got != CategoryIdentity {
		t.Errorf("expected IDENTITY_ERROR, got %s", got)
	}
}

func TestAdmission_TimestampWindow(t *testing.T) {
	f := newFederation(t)
	eng := f.newEngine("op-1")

	build := func(ts int64) *event.Event {
		ev := &event.Event{
			EventType:         event.TypeManufacturerRegistered,
			Height:            1,
			Timestamp:         ts,
			PreviousEventHash: event.ZeroHash,
			Payload: &event.ManufacturerRegistered{
				ManufacturerID: mfrID, Name: mfrName,
				IssuerPublicKey: f.mfrKey.PublicHex(), RegistrationFeeSats: 1,
			},
		}
		return f.quorumSign(ev, f.mfrKey, 3)
	}

	tooOld := build(f.clock - 24*3_600_000 - 1)
	if got := CategoryOf(eng.SubmitEvent(tooOld)); got != CategoryTimestamp {
		t.Errorf("stale event: expected TIMESTAMP_ERROR, got %s", got)
	}

	tooNew := build(f.clock + 5*60_000 + 1)
	if got := CategoryOf(eng.SubmitEvent(tooNew)); got != CategoryTimestamp {
		t.Errorf("future event: expected TIMESTAMP_ERROR, got %s", got)
	}
}

func TestAdmission_ChainErrors(t *testing.T) {
	f := newFederation(t)
	eng := f.newEngine("op-1")
	reg := f.registerManufacturer(eng)
	mint := f.mintItem(eng, reg)

	// Wrong height.
	f.clock += 1000
	skip := &event.Event{
		EventType: event.TypeItemAssigned, ItemID: mint.ItemID,
		Height: 5, Timestamp: f.clock, PreviousEventHash: mint.EventID,
		Payload: &event.ItemAssigned{OwnerWallet: f.wallet(f.ownerKey)},
	}
	f.quorumSign(skip, f.mfrKey, 3)
	if got := CategoryOf(eng.SubmitEvent(skip)); got != CategoryChain {
		t.Errorf("height gap: expected CHAIN_ERROR, got %s", got)
	}

	// Wrong previous hash.
	wrongPrev := &event.Event{
		EventType: event.TypeItemAssigned, ItemID: mint.ItemID,
		Height: 3, Timestamp: f.clock, PreviousEventHash: reg.EventID,
		Payload: &event.ItemAssigned{OwnerWallet: f.wallet(f.ownerKey)},
	}
	f.quorumSign(wrongPrev, f.mfrKey, 3)
	if got := CategoryOf(eng.SubmitEvent(wrongPrev)); got != CategoryChain {
		t.Errorf("bad link: expected CHAIN_ERROR, got %s", got)
	}

	// Unknown item.
	ghost := &event.Event{
		EventType: event.TypeItemAssigned, ItemID: metadataHash(),
		Height: 2, Timestamp: f.clock, PreviousEventHash: mint.EventID,
		Payload: &event.ItemAssigned{OwnerWallet: f.wallet(f.ownerKey)},
	}
	f.quorumSign(ghost, f.mfrKey, 3)
	if got := CategoryOf(eng.SubmitEvent(ghost)); got != CategoryChain {
		t.Errorf("unknown item: expected CHAIN_ERROR, got %s", got)
	}
}

func TestAdmission_BurnedIsTerminal(t *testing.T) {
	f := newFederation(t)
	eng := f.newEngine("op-1")
	reg := f.registerManufacturer(eng)
	mint := f.mintItem(eng, reg)

	f.clock += 1000
	burn := &event.Event{
		EventType: event.TypeItemBurned, ItemID: mint.ItemID,
		Height: 3, Timestamp: f.clock, PreviousEventHash: mint.EventID,
		Payload: &event.ItemBurned{Reason: "destroyed in transit"},
	}
	f.quorumSign(burn, f.mfrKey, 3)
	if err := eng.SubmitEvent(burn); err != nil {
		t.Fatalf("failed to admit burn: %v", err)
	}

	f.clock += 1000
	after := &event.Event{
		EventType: event.TypeItemAssigned, ItemID: mint.ItemID,
		Height: 4, Timestamp: f.clock, PreviousEventHash: burn.EventID,
		Payload: &event.ItemAssigned{OwnerWallet: f.wallet(f.ownerKey)},
	}
	f.quorumSign(after, f.mfrKey, 3)
	if got := CategoryOf(eng.SubmitEvent(after)); got != CategoryChain {
		t.Errorf("expected CHAIN_ERROR on burned item, got %s", got)
	}
}

func TestAdmission_TransitionErrors(t *testing.T) {
	f := newFederation(t)
	eng := f.newEngine("op-1")
	reg := f.registerManufacturer(eng)
	mint := f.mintItem(eng, reg)

	// Locking a MINTED (unassigned) item is not a legal edge.
	f.clock += 1000
	lock := &event.Event{
		EventType: event.TypeItemLocked, ItemID: mint.ItemID,
		Height: 3, Timestamp: f.clock, PreviousEventHash: mint.EventID,
		Payload: &event.ItemLocked{
			OfferID: offerID, SellerWallet: f.wallet(f.ownerKey),
			BuyerWallet: f.wallet(f.buyerKey), PriceSats: priceSats,
			ExpiryTimestamp: f.clock + 3_600_000, EscrowFeeSats: escrowFee,
		},
	}
	f.quorumSign(lock, f.ownerKey, 3)
	if got := CategoryOf(eng.SubmitEvent(lock)); got != CategoryTransition {
		t.Errorf("expected TRANSITION_ERROR, got %s", got)
	}
}

func TestAdmission_LockPreconditions(t *testing.T) {
	f := newFederation(t)
	eng := f.newEngine("op-1")
	reg := f.registerManufacturer(eng)
	mint := f.mintItem(eng, reg)
	assign := f.assignItem(eng, mint)

	build := func(mutate func(*event.ItemLocked)) *event.Event {
		f.clock += 1000
		p := &event.ItemLocked{
			OfferID: offerID, SellerWallet: f.wallet(f.ownerKey),
			BuyerWallet: f.wallet(f.buyerKey), PriceSats: priceSats,
			ExpiryTimestamp: f.clock + 3_600_000, EscrowFeeSats: escrowFee,
		}
		mutate(p)
		ev := &event.Event{
			EventType: event.TypeItemLocked, ItemID: mint.ItemID,
			Height: 4, Timestamp: f.clock, PreviousEventHash: assign.EventID,
			Payload: p,
		}
		return f.quorumSign(ev, f.ownerKey, 3)
	}

	cases := []struct {
		name   string
		mutate func(*event.ItemLocked)
	}{
		{"seller is not owner", func(p *event.ItemLocked) { p.SellerWallet = f.wallet(f.buyerKey) }},
		{"buyer equals seller", func(p *event.ItemLocked) { p.BuyerWallet = p.SellerWallet }},
		{"zero price", func(p *event.ItemLocked) { p.PriceSats = 0 }},
		{"expiry in the past", func(p *event.ItemLocked) { p.ExpiryTimestamp = f.clock - 1 }},
	}
	for _, tc := range cases {
		ev := build(tc.mutate)
		got := CategoryOf(eng.SubmitEvent(ev))
		if got != CategoryTransition && got != CategoryActorSignature {
			t.Errorf("%s: expected a precondition rejection, got %s", tc.name, got)
		}
	}
}

func TestAdmission_SettlePreconditions(t *testing.T) {
	f := newFederation(t)
	eng := f.newEngine("op-1")
	reg := f.registerManufacturer(eng)
	mint := f.mintItem(eng, reg)
	assign := f.assignItem(eng, mint)
	lock := f.lockItem(eng, assign)

	// Underpayment.
	f.clock += 1000
	short := f.settleEvent(lock, func(p *event.ItemSettled) {
		p.PaymentProof.AmountSats = priceSats - 1
	})
	if got := CategoryOf(eng.SubmitEvent(short)); got != CategoryTransition {
		t.Errorf("underpayment: expected TRANSITION_ERROR, got %s", got)
	}

	// Zero confirmations on an on-chain proof.
	unconfirmed := f.settleEvent(lock, func(p *event.ItemSettled) {
		p.PaymentProof.Confirmations = 0
	})
	if got := CategoryOf(eng.SubmitEvent(unconfirmed)); got != CategoryTransition {
		t.Errorf("unconfirmed: expected TRANSITION_ERROR, got %s", got)
	}

	// Wrong offer.
	wrongOffer := f.settleEvent(lock, func(p *event.ItemSettled) {
		p.OfferID = "offer-zzz"
	})
	if got := CategoryOf(eng.SubmitEvent(wrongOffer)); got != CategoryTransition {
		t.Errorf("wrong offer: expected TRANSITION_ERROR, got %s", got)
	}
}

// settleEvent builds a quorum-signed settle candidate with one mutation.
func (f *federation) settleEvent(lock *event.Event, mutate func(*event.ItemSettled)) *event.Event {
	f.t.Helper()
	p := &event.ItemSettled{
		OfferID:     offerID,
		BuyerWallet: f.wallet(f.buyerKey),
		PriceSats:   priceSats,
		PaymentProof: &payment.Proof{
			PaymentType: payment.TypeOnchain, TxHash: "aa", AmountSats: priceSats,
			Confirmations: 1, VerifiedAt: f.clock,
		},
		SettlementFeeSats: 1_000_000,
	}
	mutate(p)
	ev := &event.Event{
		EventType: event.TypeItemSettled, ItemID: lock.ItemID,
		Height: lock.Height + 1, Timestamp: f.clock, PreviousEventHash: lock.EventID,
		Payload: p,
	}
	return f.quorumSign(ev, f.buyerKey, 3)
}

func TestAdmission_ActorSignatureErrors(t *testing.T) {
	f := newFederation(t)
	eng := f.newEngine("op-1")

	// Registration signed by a key other than the declared issuer.
	stranger := f.buyerKey
	ev := &event.Event{
		EventType:         event.TypeManufacturerRegistered,
		Height:            1,
		Timestamp:         f.clock,
		PreviousEventHash: event.ZeroHash,
		Payload: &event.ManufacturerRegistered{
			ManufacturerID: mfrID, Name: mfrName,
			IssuerPublicKey: f.mfrKey.PublicHex(), RegistrationFeeSats: 1,
		},
	}
	f.quorumSign(ev, stranger, 3)
	if got := CategoryOf(eng.SubmitEvent(ev)); got != CategoryActorSignature {
		t.Errorf("expected ACTOR_SIGNATURE_ERROR, got %s", got)
	}

	// Missing actor signature entirely.
	missing := &event.Event{
		EventType:         event.TypeManufacturerRegistered,
		Height:            1,
		Timestamp:         f.clock,
		PreviousEventHash: event.ZeroHash,
		Payload: &event.ManufacturerRegistered{
			ManufacturerID: mfrID, Name: mfrName,
			IssuerPublicKey: f.mfrKey.PublicHex(), RegistrationFeeSats: 1,
		},
	}
	f.quorumSign(missing, nil, 3)
	if got := CategoryOf(eng.SubmitEvent(missing)); got != CategoryActorSignature {
		t.Errorf("expected ACTOR_SIGNATURE_ERROR, got %s", got)
	}
}

func TestAdmission_RegistryErrors(t *testing.T) {
	f := newFederation(t)
	eng := f.newEngine("op-1")

	// Minting for an unregistered manufacturer.
	ev := &event.Event{
		EventType: event.TypeItemMinted, Height: 2, Timestamp: f.clock,
		PreviousEventHash: event.ZeroHash,
		Payload: &event.ItemMinted{
			ManufacturerID: "mfr-ghost", MetadataHash: metadataHash(), MintingFeeSats: 1,
		},
	}
	ev.ItemID = event.ComputeItemID("mfr-ghost", metadataHash(), ev.Timestamp)
	f.quorumSign(ev, f.mfrKey, 3)
	if got := CategoryOf(eng.SubmitEvent(ev)); got != CategoryRegistry {
		t.Errorf("expected REGISTRY_ERROR, got %s", got)
	}

	// Double registration.
	f.registerManufacturer(eng)
	dup := &event.Event{
		EventType: event.TypeManufacturerRegistered, Height: 1,
		Timestamp: f.clock + 1, PreviousEventHash: event.ZeroHash,
		Payload: &event.ManufacturerRegistered{
			ManufacturerID: mfrID, Name: mfrName,
			IssuerPublicKey: f.mfrKey.PublicHex(), RegistrationFeeSats: 2,
		},
	}
	f.quorumSign(dup, f.mfrKey, 3)
	if got := CategoryOf(eng.SubmitEvent(dup)); got != CategoryRegistry {
		t.Errorf("expected REGISTRY_ERROR on re-registration, got %s", got)
	}
}

func TestAdmission_QuorumDetails(t *testing.T) {
	f := newFederation(t)
	eng := f.newEngine("op-1")

	base := func() *event.Event {
		ev := &event.Event{
			EventType:         event.TypeManufacturerRegistered,
			Height:            1,
			Timestamp:         f.clock,
			PreviousEventHash: event.ZeroHash,
			Payload: &event.ManufacturerRegistered{
				ManufacturerID: mfrID, Name: mfrName,
				IssuerPublicKey: f.mfrKey.PublicHex(), RegistrationFeeSats: 1,
			},
		}
		if err := ev.Finalize(); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if err := ev.SignAsActor(f.mfrKey); err != nil {
			t.Fatalf("actor sign: %v", err)
		}
		return ev
	}

	// Unknown signer.
	ev := base()
	sig, _ := ev.SignAsOperator("op-stranger", f.ownerKey)
	ev.OperatorSignatures = []event.OperatorSignature{*sig, *f.opSig(ev, "op-1"), *f.opSig(ev, "op-2")}
	if got := CategoryOf(eng.SubmitEvent(ev)); got != CategoryQuorum {
		t.Errorf("unknown signer: expected QUORUM_ERROR, got %s", got)
	}

	// Duplicate signer does not satisfy quorum.
	ev = base()
	s1 := f.opSig(ev, "op-1")
	s2 := f.opSig(ev, "op-2")
	ev.OperatorSignatures = []event.OperatorSignature{*s1, *s1, *s2}
	if got := CategoryOf(eng.SubmitEvent(ev)); got != CategoryQuorum {
		t.Errorf("duplicate signer: expected QUORUM_ERROR, got %s", got)
	}

	// A signer presenting another operator's key.
	ev = base()
	s1 = f.opSig(ev, "op-1")
	forged := *f.opSig(ev, "op-2")
	forged.OperatorID = "op-3"
	ev.OperatorSignatures = []event.OperatorSignature{*s1, forged, *f.opSig(ev, "op-4")}
	if got := CategoryOf(eng.SubmitEvent(ev)); got != CategoryQuorum {
		t.Errorf("foreign key: expected QUORUM_ERROR, got %s", got)
	}

	// Exceeding M is allowed.
	ev = base()
	ev.OperatorSignatures = nil
	for i := 1; i <= 5; i++ {
		ev.AddOperatorSignature(*f.opSig(ev, fmt.Sprintf("op-%d", i)))
	}
	if err := eng.SubmitEvent(ev); err != nil {
		t.Errorf("five signatures should admit: %v", err)
	}
}

func TestSignEvent_RefusesConflictingCandidate(t *testing.T) {
	f := newFederation(t)
	eng := f.newEngine("op-2")
	reg := f.registerManufacturer(eng)
	mint := f.mintItem(eng, reg)

	build := func(owner *keys.KeyPair) *event.Event {
		ev := &event.Event{
			EventType: event.TypeItemAssigned, ItemID: mint.ItemID,
			Height: 3, Timestamp: f.clock + 500, PreviousEventHash: mint.EventID,
			Payload: &event.ItemAssigned{OwnerWallet: f.wallet(owner)},
		}
		if err := ev.Finalize(); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if err := ev.SignAsActor(f.mfrKey); err != nil {
			t.Fatalf("actor sign: %v", err)
		}
		return ev
	}

	first := build(f.ownerKey)
	if _, err := eng.SignEvent(first); err != nil {
		t.Fatalf("first candidate refused: %v", err)
	}
	// Same candidate again is fine.
	if _, err := eng.SignEvent(first); err != nil {
		t.Errorf("re-signing the same candidate refused: %v", err)
	}
	// A conflicting candidate at the same (item, height) is refused.
	second := build(f.buyerKey)
	if _, err := eng.SignEvent(second); err == nil {
		t.Error("conflicting candidate co-signed")
	}
}

func TestProposeEvent_FillsChainPosition(t *testing.T) {
	f := newFederation(t)
	eng := f.newEngine("op-1")
	reg := f.registerManufacturer(eng)
	mint := f.mintItem(eng, reg)

	candidate, err := eng.ProposeEvent(&event.Event{
		ItemID:  mint.ItemID,
		Payload: &event.ItemAssigned{OwnerWallet: f.wallet(f.ownerKey)},
	})
	if err != nil {
		t.Fatalf("failed to propose: %v", err)
	}
	if candidate.Height != 3 {
		t.Errorf("height mismatch: got %d, want 3", candidate.Height)
	}
	if candidate.PreviousEventHash != mint.EventID {
		t.Error("candidate does not chain to the tail")
	}
	if len(candidate.OperatorSignatures) != 1 || candidate.OperatorSignatures[0].OperatorID != "op-1" {
		t.Error("candidate is not self-signed")
	}
	if id, _ := candidate.ComputeID(); id != candidate.EventID {
		t.Error("candidate id does not recompute")
	}
}
