// Copyright 2026 Provenact Labs
//
// Payment proofs attached to settlement events.
//
// The node only enforces the numeric invariants carried inside the proof
// (amount, confirmations). Whether the referenced transaction or invoice
// actually exists is the business of an injected Verifier backed by a block
// explorer or a Lightning node; the core never talks to either directly.

package payment

import (
	"context"
	"errors"
)

// Type discriminates the two settlement rails.
type Type string

const (
	TypeOnchain   Type = "ONCHAIN"
	TypeLightning Type = "LIGHTNING"
)

var (
	ErrUnknownType          = errors.New("unknown payment type")
	ErrZeroAmount           = errors.New("payment amount must be positive")
	ErrMissingTxHash        = errors.New("on-chain proof requires tx_hash")
	ErrMissingPaymentHash   = errors.New("lightning proof requires payment_hash and preimage")
	ErrInsufficientConfirms = errors.New("on-chain proof requires at least one confirmation")
)

// Proof is the evidence a settlement event carries.
type Proof struct {
	PaymentType   Type   `json:"payment_type"`
	TxHash        string `json:"tx_hash,omitempty"`
	PaymentHash   string `json:"payment_hash,omitempty"`
	Preimage      string `json:"preimage,omitempty"`
	AmountSats    uint64 `json:"amount_sats"`
	Confirmations uint32 `json:"confirmations,omitempty"`
	VerifiedAt    int64  `json:"verified_at"`
}

// CanonicalMap returns the proof's canonical field map for hashing.
func (p *Proof) CanonicalMap() map[string]any {
	m := map[string]any{
		"payment_type": string(p.PaymentType),
		"amount_sats":  p.AmountSats,
		"verified_at":  p.VerifiedAt,
	}
	if p.TxHash != "" {
		m["tx_hash"] = p.TxHash
	}
	if p.PaymentHash != "" {
		m["payment_hash"] = p.PaymentHash
	}
	if p.Preimage != "" {
		m["preimage"] = p.Preimage
	}
	if p.Confirmations > 0 {
		m["confirmations"] = uint64(p.Confirmations)
	}
	return m
}

// CheckShape enforces the structural invariants the core owns. minConfirms
// applies to on-chain proofs only.
func (p *Proof) CheckShape(minConfirms uint32) error {
	if p.AmountSats == 0 {
		return ErrZeroAmount
	}
	switch p.PaymentType {
	case TypeOnchain:
		if p.TxHash == "" {
			return ErrMissingTxHash
		}
		if p.Confirmations < minConfirms {
			return ErrInsufficientConfirms
		}
	case TypeLightning:
		if p.PaymentHash == "" || p.Preimage == "" {
			return ErrMissingPaymentHash
		}
	default:
		return ErrUnknownType
	}
	return nil
}

// Verifier checks a proof against the outside world.
type Verifier interface {
	Verify(ctx context.Context, proof *Proof) (bool, error)
}

// StaticVerifier accepts every structurally valid proof. It is the default
// when no explorer or Lightning adapter is wired in.
type StaticVerifier struct {
	MinConfirmations uint32
}

// Verify implements Verifier using only the proof's own invariants.
func (v *StaticVerifier) Verify(_ context.Context, proof *Proof) (bool, error) {
	if proof == nil {
		return false, nil
	}
	if err := proof.CheckShape(v.MinConfirmations); err != nil {
		return false, nil
	}
	return true, nil
}
