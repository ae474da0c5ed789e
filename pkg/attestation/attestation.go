// Copyright 2026 Provenact Labs
//
// Authenticator attestations.
//
// An attestation is a signed statement by a registered authenticator about a
// physical item. It rides into the log via an ITEM_AUTHENTICATED event but
// never changes item state; it is informational, queryable per item, and
// valid only while its signature checks out, it is unexpired, and the issuing
// authenticator is still ACTIVE.

package attestation

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/provenact/operator-node/pkg/canonical"
	"github.com/provenact/operator-node/pkg/keys"
)

var (
	ErrConfidenceRange = errors.New("confidence must be within [0, 1]")
	ErrMissingFields   = errors.New("attestation missing required fields")
)

// Attestation is a signed authenticator statement about one item.
type Attestation struct {
	AttestationID          string  `json:"attestation_id"`
	ItemID                 string  `json:"item_id"`
	AuthenticatorID        string  `json:"authenticator_id"`
	Confidence             float64 `json:"confidence"`
	Scope                  string  `json:"scope"`
	Notes                  string  `json:"notes,omitempty"`
	ExpiryTimestamp        int64   `json:"expiry_timestamp,omitempty"`
	IssuedAt               int64   `json:"issued_at"`
	AuthenticatorSignature string  `json:"authenticator_signature"`
}

// CanonicalMap returns the signed portion of the attestation: every field
// except the attestation id (derived from this map) and the signature.
func (a *Attestation) CanonicalMap() map[string]any {
	m := map[string]any{
		"item_id":          a.ItemID,
		"authenticator_id": a.AuthenticatorID,
		"confidence":       a.Confidence,
		"scope":            a.Scope,
		"issued_at":        a.IssuedAt,
	}
	if a.Notes != "" {
		m["notes"] = a.Notes
	}
	if a.ExpiryTimestamp != 0 {
		m["expiry_timestamp"] = a.ExpiryTimestamp
	}
	return m
}

// SigningDigest returns SHA256 over the canonical signed portion.
func (a *Attestation) SigningDigest() ([32]byte, error) {
	return canonical.Hash(a.CanonicalMap())
}

// Seal computes the attestation id and signs with the authenticator key.
func (a *Attestation) Seal(kp *keys.KeyPair) error {
	if a.ItemID == "" || a.AuthenticatorID == "" {
		return ErrMissingFields
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return ErrConfidenceRange
	}
	digest, err := a.SigningDigest()
	if err != nil {
		return fmt.Errorf("failed to compute attestation digest: %w", err)
	}
	a.AttestationID = hex.EncodeToString(digest[:])
	sig, err := kp.Sign(digest[:])
	if err != nil {
		return fmt.Errorf("failed to sign attestation: %w", err)
	}
	a.AuthenticatorSignature = sig
	return nil
}

// VerifySignature reports whether the attestation signature verifies under
// the given authenticator public key. Malformed content verifies false.
func (a *Attestation) VerifySignature(authenticatorPubHex string) bool {
	digest, err := a.SigningDigest()
	if err != nil {
		return false
	}
	if a.AttestationID != "" && a.AttestationID != hex.EncodeToString(digest[:]) {
		return false
	}
	return keys.Verify(authenticatorPubHex, digest[:], a.AuthenticatorSignature)
}

// Expired reports whether the attestation has lapsed at nowMs. A zero expiry
// means the attestation does not expire.
func (a *Attestation) Expired(nowMs int64) bool {
	return a.ExpiryTimestamp != 0 && nowMs >= a.ExpiryTimestamp
}
