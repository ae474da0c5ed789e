// Copyright 2026 Provenact Labs
//
// Test federation harness: five operators with real keys, a shared clock,
// and helpers for building fully signed events.

package node

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/provenact/operator-node/pkg/attestation"
	"github.com/provenact/operator-node/pkg/event"
	"github.com/provenact/operator-node/pkg/keys"
	"github.com/provenact/operator-node/pkg/payment"
	"github.com/provenact/operator-node/pkg/registry"
	"github.com/provenact/operator-node/pkg/store"
)

const baseTime = int64(1_700_000_000_000)

type federation struct {
	t        *testing.T
	clock    int64
	registry *registry.Registry
	opKeys   map[string]*keys.KeyPair

	mfrKey   *keys.KeyPair
	authKey  *keys.KeyPair
	ownerKey *keys.KeyPair
	buyerKey *keys.KeyPair
}

func newFederation(t *testing.T) *federation {
	t.Helper()
	f := &federation{t: t, clock: baseTime, opKeys: make(map[string]*keys.KeyPair)}

	ops := make([]registry.Operator, 5)
	for i := 0; i < 5; i++ {
		kp, err := keys.Generate()
		if err != nil {
			t.Fatalf("failed to generate operator key: %v", err)
		}
		id := fmt.Sprintf("op-%d", i+1)
		addr, _ := kp.Address()
		ops[i] = registry.Operator{
			OperatorID:    id,
			PublicKey:     kp.PublicHex(),
			PayoutAddress: addr,
			Endpoint:      fmt.Sprintf("http://operator-%d:8080", i+1),
			Status:        registry.OperatorActive,
		}
		f.opKeys[id] = kp
	}
	reg, err := registry.New(ops)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	f.registry = reg

	for _, kp := range []**keys.KeyPair{&f.mfrKey, &f.authKey, &f.ownerKey, &f.buyerKey} {
		k, err := keys.Generate()
		if err != nil {
			t.Fatalf("failed to generate actor key: %v", err)
		}
		*kp = k
	}
	return f
}

func (f *federation) newEngine(operatorID string) *Engine {
	f.t.Helper()
	cfg := DefaultConfig()
	cfg.OperatorID = operatorID
	cfg.Logger = log.New(io.Discard, "", 0)
	cfg.Now = func() int64 { return f.clock }
	eng, err := New(cfg, store.New(store.NewMemoryKV()), f.registry, f.opKeys[operatorID], nil, nil)
	if err != nil {
		f.t.Fatalf("failed to build engine: %v", err)
	}
	return eng
}

func (f *federation) wallet(kp *keys.KeyPair) string {
	addr, err := kp.Address()
	if err != nil {
		f.t.Fatalf("failed to derive wallet: %v", err)
	}
	return addr
}

// opSig returns one operator's co-signature over a finalized event.
func (f *federation) opSig(ev *event.Event, operatorID string) *event.OperatorSignature {
	f.t.Helper()
	sig, err := ev.SignAsOperator(operatorID, f.opKeys[operatorID])
	if err != nil {
		f.t.Fatalf("failed to operator-sign: %v", err)
	}
	return sig
}

// quorumSign finalizes the event, attaches the actor signature, and co-signs
// with the first `count` operators.
func (f *federation) quorumSign(ev *event.Event, actor *keys.KeyPair, count int) *event.Event {
	f.t.Helper()
	if err := ev.Finalize(); err != nil {
		f.t.Fatalf("failed to finalize event: %v", err)
	}
	if actor != nil {
		if err := ev.SignAsActor(actor); err != nil {
			f.t.Fatalf("failed to actor-sign: %v", err)
		}
	}
	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("op-%d", i)
		sig, err := ev.SignAsOperator(id, f.opKeys[id])
		if err != nil {
			f.t.Fatalf("failed to operator-sign: %v", err)
		}
		ev.AddOperatorSignature(*sig)
	}
	return ev
}

const (
	mfrID     = "mfr-lwc"
	mfrName   = "Luxury Watch Co."
	authID    = "auth-gemlab"
	offerID   = "offer-abc"
	priceSats = uint64(50_000_000)
	escrowFee = uint64(1_000_000)
)

func metadataHash() string {
	h := sha256.Sum256([]byte("Chronograph Elite X1|LWC-2024-001234"))
	return hex.EncodeToString(h[:])
}

// registerManufacturer builds and admits the MANUFACTURER_REGISTERED event.
func (f *federation) registerManufacturer(eng *Engine) *event.Event {
	f.t.Helper()
	ev := &event.Event{
		EventType:         event.TypeManufacturerRegistered,
		Height:            1,
		Timestamp:         f.clock,
		PreviousEventHash: event.ZeroHash,
		Payload: &event.ManufacturerRegistered{
			ManufacturerID:      mfrID,
			Name:                mfrName,
			IssuerPublicKey:     f.mfrKey.PublicHex(),
			RegistrationFeeSats: 10_000,
		},
	}
	f.quorumSign(ev, f.mfrKey, 3)
	if err := eng.SubmitEvent(ev); err != nil {
		f.t.Fatalf("failed to admit registration: %v", err)
	}
	return ev
}

// mintItem builds and admits the ITEM_MINTED event chained to registration.
func (f *federation) mintItem(eng *Engine, reg *event.Event) *event.Event {
	f.t.Helper()
	f.clock += 1000
	ev := &event.Event{
		EventType:         event.TypeItemMinted,
		Height:            2,
		Timestamp:         f.clock,
		PreviousEventHash: reg.EventID,
		Payload: &event.ItemMinted{
			ManufacturerID: mfrID,
			MetadataHash:   metadataHash(),
			MintingFeeSats: 5_000,
		},
	}
	ev.ItemID = event.ComputeItemID(mfrID, metadataHash(), ev.Timestamp)
	f.quorumSign(ev, f.mfrKey, 3)
	if err := eng.SubmitEvent(ev); err != nil {
		f.t.Fatalf("failed to admit mint: %v", err)
	}
	return ev
}

// assignItem admits ITEM_ASSIGNED to the owner wallet.
func (f *federation) assignItem(eng *Engine, mint *event.Event) *event.Event {
	f.t.Helper()
	f.clock += 1000
	ev := &event.Event{
		EventType:         event.TypeItemAssigned,
		ItemID:            mint.ItemID,
		Height:            3,
		Timestamp:         f.clock,
		PreviousEventHash: mint.EventID,
		Payload:           &event.ItemAssigned{OwnerWallet: f.wallet(f.ownerKey)},
	}
	if err := ev.Finalize(); err != nil {
		f.t.Fatalf("failed to finalize assign: %v", err)
	}
	// Owner acceptance over the event id.
	digest, _ := ev.SigningDigest()
	ownerSig, _ := f.ownerKey.Sign(digest)
	ev.Payload.(*event.ItemAssigned).OwnerSignature = &event.ActorSignature{
		PublicKey: f.ownerKey.PublicHex(),
		Signature: ownerSig,
	}
	f.quorumSign(ev, f.mfrKey, 3)
	if err := eng.SubmitEvent(ev); err != nil {
		f.t.Fatalf("failed to admit assign: %v", err)
	}
	return ev
}

// lockItem admits ITEM_LOCKED against offerID, expiring in one hour.
func (f *federation) lockItem(eng *Engine, prev *event.Event) *event.Event {
	f.t.Helper()
	f.clock += 1000
	ev := &event.Event{
		EventType:         event.TypeItemLocked,
		ItemID:            prev.ItemID,
		Height:            prev.Height + 1,
		Timestamp:         f.clock,
		PreviousEventHash: prev.EventID,
		Payload: &event.ItemLocked{
			OfferID:         offerID,
			SellerWallet:    f.wallet(f.ownerKey),
			BuyerWallet:     f.wallet(f.buyerKey),
			PriceSats:       priceSats,
			ExpiryTimestamp: f.clock + 3_600_000,
			EscrowFeeSats:   escrowFee,
		},
	}
	f.quorumSign(ev, f.ownerKey, 3)
	if err := eng.SubmitEvent(ev); err != nil {
		f.t.Fatalf("failed to admit lock: %v", err)
	}
	return ev
}

// settleItem admits ITEM_SETTLED with a confirmed on-chain proof.
func (f *federation) settleItem(eng *Engine, lock *event.Event) *event.Event {
	f.t.Helper()
	f.clock += 1000
	ev := &event.Event{
		EventType:         event.TypeItemSettled,
		ItemID:            lock.ItemID,
		Height:            lock.Height + 1,
		Timestamp:         f.clock,
		PreviousEventHash: lock.EventID,
		Payload: &event.ItemSettled{
			OfferID:     offerID,
			BuyerWallet: f.wallet(f.buyerKey),
			PriceSats:   priceSats,
			PaymentProof: &payment.Proof{
				PaymentType:   payment.TypeOnchain,
				TxHash:        "f0" + metadataHash()[2:],
				AmountSats:    priceSats,
				Confirmations: 1,
				VerifiedAt:    f.clock,
			},
			SettlementFeeSats: 1_000_000,
		},
	}
	f.quorumSign(ev, f.buyerKey, 3)
	if err := eng.SubmitEvent(ev); err != nil {
		f.t.Fatalf("failed to admit settle: %v", err)
	}
	return ev
}

// registerAuthenticator admits an AUTHENTICATOR_REGISTERED event.
func (f *federation) registerAuthenticator(eng *Engine) *event.Event {
	f.t.Helper()
	ev := &event.Event{
		EventType:         event.TypeAuthenticatorRegistered,
		Height:            1,
		Timestamp:         f.clock,
		PreviousEventHash: event.ZeroHash,
		Payload: &event.AuthenticatorRegistered{
			AuthenticatorID:     authID,
			Name:                "Gem Lab",
			PublicKey:           f.authKey.PublicHex(),
			Specialization:      "horology",
			RegistrationFeeSats: 20_000,
		},
	}
	f.quorumSign(ev, f.authKey, 3)
	if err := eng.SubmitEvent(ev); err != nil {
		f.t.Fatalf("failed to admit authenticator registration: %v", err)
	}
	return ev
}

// sealedAttestation builds a signed attestation for an item.
func (f *federation) sealedAttestation(itemID string) *attestation.Attestation {
	f.t.Helper()
	att := &attestation.Attestation{
		ItemID:          itemID,
		AuthenticatorID: authID,
		Confidence:      0.97,
		Scope:           "full-inspection",
		IssuedAt:        f.clock,
	}
	if err := att.Seal(f.authKey); err != nil {
		f.t.Fatalf("failed to seal attestation: %v", err)
	}
	return att
}
