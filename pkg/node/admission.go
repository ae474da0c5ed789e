// Copyright 2026 Provenact Labs
//
// Admission pipeline. On submission an event is checked in a fixed order
// (format, identity, timestamp, chain position, transition preconditions,
// actor signature, operator quorum) and persisted atomically together with
// its snapshot updates. The first failing check names the rejection; nothing
// is written on failure.

package node

import (
	"context"
	"errors"

	"github.com/provenact/operator-node/pkg/attestation"
	"github.com/provenact/operator-node/pkg/event"
	"github.com/provenact/operator-node/pkg/keys"
	"github.com/provenact/operator-node/pkg/state"
	"github.com/provenact/operator-node/pkg/store"
)

// SubmitEvent runs the full admission pipeline. A nil return means the
// event is admitted and its snapshot applied.
func (e *Engine) SubmitEvent(ev *event.Event) error {
	err := e.admit(ev)
	if e.metrics != nil {
		if err == nil {
			e.metrics.EventsAdmitted.Inc()
		} else if cat := CategoryOf(err); cat != "" {
			e.metrics.EventsRejected.WithLabelValues(string(cat)).Inc()
		}
	}
	if err != nil {
		e.logger.Printf("rejected %s at height %d: %v", ev.EventType, ev.Height, err)
	}
	return err
}

func (e *Engine) admit(ev *event.Event) error {
	ctx, err := e.validateWithContext(ev)
	if err != nil {
		return err
	}
	if err := e.checkQuorum(ev); err != nil {
		return err
	}
	return e.persist(ev, ctx)
}

// validate runs every admission check except the quorum count. It is the
// shared gate for SubmitEvent and SignEvent.
func (e *Engine) validate(ev *event.Event) error {
	_, err := e.validateWithContext(ev)
	return err
}

// admissionContext carries the stored state loaded during validation so the
// persist step does not reload it.
type admissionContext struct {
	item         *state.Item // nil for registrations and mint
	manufacturer *state.Manufacturer
	mfrHead      *event.Event // registration event heading a mint's chain
}

func (e *Engine) validateWithContext(ev *event.Event) (*admissionContext, error) {
	// 0. Format.
	if ev == nil || ev.Payload == nil {
		return nil, reject(CategoryFormat, "event has no payload")
	}
	if ev.Payload.EventType() != ev.EventType {
		return nil, reject(CategoryFormat, "payload type %s does not match event type %s",
			ev.Payload.EventType(), ev.EventType)
	}
	if !decodeHash(ev.EventID) {
		return nil, reject(CategoryFormat, "event id is not a 32-byte hex hash")
	}
	if !decodeHash(ev.PreviousEventHash) {
		return nil, reject(CategoryFormat, "previous event hash is not a 32-byte hex hash")
	}
	if ev.Height == 0 {
		return nil, reject(CategoryFormat, "height starts at 1")
	}

	// 1. Identity: the stored id must be reproducible bit for bit.
	id, err := ev.ComputeID()
	if err != nil {
		return nil, reject(CategoryFormat, "failed to canonicalize event: %v", err)
	}
	if id != ev.EventID {
		return nil, reject(CategoryIdentity, "event id mismatch: recomputed %s", id)
	}

	// 2. Timestamp window.
	now := e.cfg.Now()
	if now-ev.Timestamp > e.cfg.MaxPastClockSkewMs {
		return nil, reject(CategoryTimestamp, "timestamp %d is outside the past window", ev.Timestamp)
	}
	if ev.Timestamp-now > e.cfg.MaxFutureClockSkewMs {
		return nil, reject(CategoryTimestamp, "timestamp %d is in the future", ev.Timestamp)
	}

	// 3. Chain position + registry context.
	ctx := &admissionContext{}
	switch p := ev.Payload.(type) {
	case *event.ManufacturerRegistered:
		if err := e.checkRegistrationHeader(ev); err != nil {
			return nil, err
		}
		if _, err := e.store.Manufacturer(p.ManufacturerID); err == nil {
			return nil, reject(CategoryRegistry, "manufacturer %s already registered", p.ManufacturerID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, reject(CategoryStore, "failed to load manufacturer: %v", err)
		}

	case *event.AuthenticatorRegistered:
		if err := e.checkRegistrationHeader(ev); err != nil {
			return nil, err
		}
		if _, err := e.store.Authenticator(p.AuthenticatorID); err == nil {
			return nil, reject(CategoryRegistry, "authenticator %s already registered", p.AuthenticatorID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, reject(CategoryStore, "failed to load authenticator: %v", err)
		}

	case *event.ItemMinted:
		mfr, err := e.store.Manufacturer(p.ManufacturerID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject(CategoryRegistry, "manufacturer %s is not registered", p.ManufacturerID)
		}
		if err != nil {
			return nil, reject(CategoryStore, "failed to load manufacturer: %v", err)
		}
		if mfr.Status != state.StatusActive {
			return nil, reject(CategoryRegistry, "manufacturer %s is %s", p.ManufacturerID, mfr.Status)
		}
		headID, err := e.store.ManufacturerHead(p.ManufacturerID)
		if err != nil {
			return nil, reject(CategoryStore, "failed to load manufacturer head: %v", err)
		}
		head, err := e.store.Event(headID)
		if err != nil {
			return nil, reject(CategoryStore, "failed to load registration event: %v", err)
		}
		if ev.ItemID != event.ComputeItemID(p.ManufacturerID, p.MetadataHash, ev.Timestamp) {
			return nil, reject(CategoryIdentity, "item id does not derive from (manufacturer, metadata, mint time)")
		}
		if _, err := e.store.Snapshot(ev.ItemID); err == nil {
			return nil, reject(CategoryChain, "item %s already exists", ev.ItemID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, reject(CategoryStore, "failed to load item: %v", err)
		}
		if ev.Height != head.Height+1 {
			return nil, reject(CategoryChain, "mint height %d must follow registration height %d", ev.Height, head.Height)
		}
		if ev.PreviousEventHash != head.EventID {
			return nil, reject(CategoryChain, "mint must chain to the manufacturer registration event")
		}
		if ev.Timestamp < head.Timestamp {
			return nil, reject(CategoryChain, "mint timestamp precedes registration")
		}
		ctx.manufacturer = mfr
		ctx.mfrHead = head

	default:
		// Item-bearing events extend an existing chain.
		if ev.ItemID == "" {
			return nil, reject(CategoryFormat, "%s requires an item id", ev.EventType)
		}
		item, err := e.store.Snapshot(ev.ItemID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject(CategoryChain, "unknown item %s", ev.ItemID)
		}
		if err != nil {
			return nil, reject(CategoryStore, "failed to load item: %v", err)
		}
		if item.CurrentState == state.StateBurned {
			return nil, reject(CategoryChain, "item %s is burned", ev.ItemID)
		}
		if ev.Height != item.LastEventHeight+1 {
			return nil, reject(CategoryChain, "height %d does not follow %d", ev.Height, item.LastEventHeight)
		}
		if ev.PreviousEventHash != item.LastEventHash {
			return nil, reject(CategoryChain, "previous event hash does not match chain tail")
		}
		tail, err := e.store.Event(item.LastEventHash)
		if err != nil {
			return nil, reject(CategoryStore, "failed to load chain tail: %v", err)
		}
		if ev.Timestamp < tail.Timestamp {
			return nil, reject(CategoryChain, "timestamp regresses along the chain")
		}
		ctx.item = item
	}

	// 4. Transition preconditions.
	if err := e.checkTransition(ev, ctx); err != nil {
		return nil, err
	}

	// 5. Actor signature.
	if err := e.checkActorSignature(ev, ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

func (e *Engine) checkRegistrationHeader(ev *event.Event) error {
	if ev.ItemID != "" {
		return reject(CategoryFormat, "registration events carry no item id")
	}
	if ev.Height != 1 {
		return reject(CategoryChain, "registration height must be 1, got %d", ev.Height)
	}
	if ev.PreviousEventHash != event.ZeroHash {
		return reject(CategoryChain, "registration must open a chain with a zero previous hash")
	}
	return nil
}

// checkTransition validates the (state, event) edge and the per-event
// preconditions that need escrow or registry context.
func (e *Engine) checkTransition(ev *event.Event, ctx *admissionContext) error {
	if ctx.item != nil {
		if _, ok := state.Next(ctx.item.CurrentState, ev.EventType); !ok {
			return reject(CategoryTransition, "%s is not legal in state %s", ev.EventType, ctx.item.CurrentState)
		}
	}

	switch p := ev.Payload.(type) {
	case *event.ItemLocked:
		if p.SellerWallet != ctx.item.CurrentOwnerWallet {
			return reject(CategoryTransition, "seller wallet is not the current owner")
		}
		if p.BuyerWallet == p.SellerWallet {
			return reject(CategoryTransition, "buyer and seller wallets must differ")
		}
		if p.PriceSats == 0 {
			return reject(CategoryTransition, "price must be positive")
		}
		if p.ExpiryTimestamp <= ev.Timestamp {
			return reject(CategoryTransition, "lock expiry must be in the future")
		}

	case *event.ItemSettled:
		lock := ctx.item.ActiveLock
		if lock == nil || lock.OfferID != p.OfferID {
			return reject(CategoryTransition, "no active lock for offer %s", p.OfferID)
		}
		if p.BuyerWallet != lock.BuyerWallet {
			return reject(CategoryTransition, "settlement buyer does not match the lock")
		}
		if p.PaymentProof == nil {
			return reject(CategoryTransition, "settlement requires a payment proof")
		}
		if p.PaymentProof.AmountSats < lock.PriceSats {
			return reject(CategoryTransition, "payment %d sats is below the lock price %d",
				p.PaymentProof.AmountSats, lock.PriceSats)
		}
		if err := p.PaymentProof.CheckShape(e.cfg.AttestationMinConfirmations); err != nil {
			return reject(CategoryTransition, "payment proof invalid: %v", err)
		}
		ok, err := e.payments.Verify(context.Background(), p.PaymentProof)
		if err != nil {
			return reject(CategoryTransition, "payment verification failed: %v", err)
		}
		if !ok {
			return reject(CategoryTransition, "payment proof did not verify")
		}

	case *event.ItemUnlockedExpired:
		lock := ctx.item.ActiveLock
		if lock == nil || lock.OfferID != p.OfferID {
			return reject(CategoryTransition, "no active lock for offer %s", p.OfferID)
		}
		if ev.Timestamp < lock.ExpiryTimestamp {
			return reject(CategoryTransition, "lock has not expired yet")
		}

	case *event.ItemAssigned:
		if p.OwnerWallet == "" {
			return reject(CategoryFormat, "assignment requires an owner wallet")
		}
		if p.OwnerSignature != nil {
			digest, err := ev.SigningDigest()
			if err != nil {
				return reject(CategoryFormat, "bad event id: %v", err)
			}
			if !keys.Verify(p.OwnerSignature.PublicKey, digest, p.OwnerSignature.Signature) {
				return reject(CategoryActorSignature, "owner acceptance signature invalid")
			}
			addr, err := keys.AddressFromPublicKey(p.OwnerSignature.PublicKey)
			if err != nil || addr != p.OwnerWallet {
				return reject(CategoryActorSignature, "owner acceptance key does not control %s", p.OwnerWallet)
			}
		}

	case *event.ItemAuthenticated:
		att := p.Attestation
		if att == nil {
			return reject(CategoryFormat, "attestation payload is empty")
		}
		if att.ItemID != ev.ItemID {
			return reject(CategoryFormat, "attestation references item %s, event targets %s", att.ItemID, ev.ItemID)
		}
		if att.Confidence < 0 || att.Confidence > 1 {
			return reject(CategoryFormat, "attestation confidence out of range")
		}
		auth, err := e.store.Authenticator(att.AuthenticatorID)
		if errors.Is(err, store.ErrNotFound) {
			return reject(CategoryRegistry, "authenticator %s is not registered", att.AuthenticatorID)
		}
		if err != nil {
			return reject(CategoryStore, "failed to load authenticator: %v", err)
		}
		if auth.Status != state.StatusActive {
			return reject(CategoryRegistry, "authenticator %s is %s", att.AuthenticatorID, auth.Status)
		}
		if !att.VerifySignature(auth.PublicKey) {
			return reject(CategoryActorSignature, "attestation signature invalid")
		}
	}
	return nil
}

// checkActorSignature verifies the event is signed by the principal the
// event type requires: the issuing manufacturer for registrations and mints,
// the current owner for custody moves, the authenticator for attestations.
func (e *Engine) checkActorSignature(ev *event.Event, ctx *admissionContext) error {
	if ev.ActorSignature == nil {
		return reject(CategoryActorSignature, "missing actor signature")
	}
	if !ev.VerifyActorSignature() {
		return reject(CategoryActorSignature, "actor signature does not verify over the event id")
	}
	actorPub := ev.ActorSignature.PublicKey

	requireKey := func(wantPub, role string) error {
		if actorPub != wantPub {
			return reject(CategoryActorSignature, "actor is not the %s", role)
		}
		return nil
	}
	requireWallet := func(wallet, role string) error {
		addr, err := keys.AddressFromPublicKey(actorPub)
		if err != nil || addr != wallet {
			return reject(CategoryActorSignature, "actor key does not control the %s wallet", role)
		}
		return nil
	}

	switch p := ev.Payload.(type) {
	case *event.ManufacturerRegistered:
		return requireKey(p.IssuerPublicKey, "declared issuer")
	case *event.AuthenticatorRegistered:
		return requireKey(p.PublicKey, "declared authenticator")
	case *event.ItemMinted:
		return requireKey(ctx.manufacturer.IssuerPublicKey, "issuing manufacturer")
	case *event.ItemAssigned:
		if ctx.item.CurrentOwnerWallet != "" {
			return requireWallet(ctx.item.CurrentOwnerWallet, "current owner")
		}
		mfr, err := e.store.Manufacturer(ctx.item.ManufacturerID)
		if err != nil {
			return reject(CategoryStore, "failed to load manufacturer: %v", err)
		}
		return requireKey(mfr.IssuerPublicKey, "issuing manufacturer")
	case *event.ItemLocked:
		return requireWallet(ctx.item.CurrentOwnerWallet, "seller")
	case *event.ItemSettled:
		return requireWallet(p.BuyerWallet, "buyer")
	case *event.ItemUnlockedExpired:
		return requireWallet(ctx.item.CurrentOwnerWallet, "owner")
	case *event.ItemMovedToCustody, *event.ItemBurned:
		if ctx.item.CurrentOwnerWallet != "" {
			return requireWallet(ctx.item.CurrentOwnerWallet, "current owner")
		}
		mfr, err := e.store.Manufacturer(ctx.item.ManufacturerID)
		if err != nil {
			return reject(CategoryStore, "failed to load manufacturer: %v", err)
		}
		return requireKey(mfr.IssuerPublicKey, "issuing manufacturer")
	case *event.ItemAuthenticated:
		auth, err := e.store.Authenticator(p.Attestation.AuthenticatorID)
		if err != nil {
			return reject(CategoryStore, "failed to load authenticator: %v", err)
		}
		return requireKey(auth.PublicKey, "attesting authenticator")
	}
	return nil
}

// checkQuorum enforces the M-of-N operator signature rule: every attached
// signature must verify, belong to a registered operator under its declared
// id, and ids must be pairwise distinct; at least M must be present.
func (e *Engine) checkQuorum(ev *event.Event) error {
	digest, err := ev.SigningDigest()
	if err != nil {
		return reject(CategoryFormat, "bad event id: %v", err)
	}

	seen := make(map[string]bool, len(ev.OperatorSignatures))
	for _, sig := range ev.OperatorSignatures {
		op, err := e.registry.Lookup(sig.OperatorID)
		if err != nil {
			return reject(CategoryQuorum, "unknown signer %s", sig.OperatorID)
		}
		if op.PublicKey != sig.PublicKey {
			return reject(CategoryQuorum, "signer %s presented a foreign key", sig.OperatorID)
		}
		if seen[sig.OperatorID] {
			return reject(CategoryQuorum, "duplicate signature from %s", sig.OperatorID)
		}
		if !keys.Verify(sig.PublicKey, digest, sig.Signature) {
			return reject(CategoryQuorum, "signature from %s does not verify", sig.OperatorID)
		}
		seen[sig.OperatorID] = true
	}
	if len(seen) < e.cfg.QuorumM {
		return reject(CategoryQuorum, "%d of %d required operator signatures", len(seen), e.cfg.QuorumM)
	}
	return nil
}

// persist applies the admitted event atomically: event blob, snapshot,
// log, and indexes land in one batch.
func (e *Engine) persist(ev *event.Event, ctx *admissionContext) error {
	switch p := ev.Payload.(type) {
	case *event.ManufacturerRegistered:
		mfr := &state.Manufacturer{
			ManufacturerID:  p.ManufacturerID,
			Name:            p.Name,
			IssuerPublicKey: p.IssuerPublicKey,
			Status:          state.StatusActive,
			RegisteredAt:    ev.Timestamp,
		}
		if err := e.store.AppendManufacturerRegistration(ev, mfr); err != nil {
			return e.storeError(err)
		}

	case *event.AuthenticatorRegistered:
		auth := &state.Authenticator{
			AuthenticatorID: p.AuthenticatorID,
			Name:            p.Name,
			PublicKey:       p.PublicKey,
			Specialization:  p.Specialization,
			Status:          state.StatusActive,
			RegisteredAt:    ev.Timestamp,
		}
		if err := e.store.AppendAuthenticatorRegistration(ev, auth); err != nil {
			return e.storeError(err)
		}

	case *event.ItemMinted:
		item := &state.Item{
			ItemID:          ev.ItemID,
			ManufacturerID:  p.ManufacturerID,
			MetadataHash:    p.MetadataHash,
			CurrentState:    state.StateMinted,
			MintedAt:        ev.Timestamp,
			LastEventHash:   ev.EventID,
			LastEventHeight: ev.Height,
		}
		if err := e.store.AppendMint(ev, item, ctx.mfrHead.EventID); err != nil {
			return e.storeError(err)
		}

	default:
		item := *ctx.item
		if err := state.Apply(&item, ev); err != nil {
			return reject(CategoryTransition, "failed to apply transition: %v", err)
		}
		var att *attestation.Attestation
		if authenticated, ok := ev.Payload.(*event.ItemAuthenticated); ok {
			att = authenticated.Attestation
		}
		if err := e.store.AppendItemEvent(ev, &item, att); err != nil {
			return e.storeError(err)
		}
	}

	e.logger.Printf("admitted %s for %s at height %d (%d signatures)",
		ev.EventType, chainPositionKey(ev), ev.Height, len(ev.OperatorSignatures))
	if e.cfg.OnAdmit != nil {
		e.cfg.OnAdmit(ev)
	}
	return nil
}

func (e *Engine) storeError(err error) error {
	if errors.Is(err, store.ErrDuplicateEvent) {
		return reject(CategoryChain, "event already admitted")
	}
	return reject(CategoryStore, "persistence failed: %v", err)
}
