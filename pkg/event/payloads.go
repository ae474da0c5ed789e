// Copyright 2026 Provenact Labs
//
// Event payload variants.

package event

import (
	"github.com/provenact/operator-node/pkg/attestation"
	"github.com/provenact/operator-node/pkg/payment"
)

// ManufacturerRegistered creates a manufacturer record and opens its chain.
type ManufacturerRegistered struct {
	ManufacturerID      string `json:"manufacturer_id"`
	Name                string `json:"name"`
	IssuerPublicKey     string `json:"issuer_public_key"`
	RegistrationFeeSats uint64 `json:"registration_fee_sats"`
}

func (p *ManufacturerRegistered) EventType() Type { return TypeManufacturerRegistered }

func (p *ManufacturerRegistered) CanonicalMap() map[string]any {
	return map[string]any{
		"manufacturer_id":       p.ManufacturerID,
		"name":                  p.Name,
		"issuer_public_key":     p.IssuerPublicKey,
		"registration_fee_sats": p.RegistrationFeeSats,
	}
}

// ItemMinted creates an item under an ACTIVE manufacturer.
type ItemMinted struct {
	ManufacturerID string `json:"manufacturer_id"`
	MetadataHash   string `json:"metadata_hash"`
	MintingFeeSats uint64 `json:"minting_fee_sats"`
}

func (p *ItemMinted) EventType() Type { return TypeItemMinted }

func (p *ItemMinted) CanonicalMap() map[string]any {
	return map[string]any{
		"manufacturer_id":  p.ManufacturerID,
		"metadata_hash":    p.MetadataHash,
		"minting_fee_sats": p.MintingFeeSats,
	}
}

// ItemAssigned hands an item to an owner wallet. The owner acceptance
// signature is excluded from the id preimage like every other signature.
type ItemAssigned struct {
	OwnerWallet    string          `json:"owner_wallet"`
	OwnerSignature *ActorSignature `json:"owner_signature,omitempty"`
}

func (p *ItemAssigned) EventType() Type { return TypeItemAssigned }

func (p *ItemAssigned) CanonicalMap() map[string]any {
	return map[string]any{
		"owner_wallet": p.OwnerWallet,
	}
}

// ItemLocked escrows an item against an offer.
type ItemLocked struct {
	OfferID         string `json:"offer_id"`
	SellerWallet    string `json:"seller_wallet"`
	BuyerWallet     string `json:"buyer_wallet"`
	PriceSats       uint64 `json:"price_sats"`
	ExpiryTimestamp int64  `json:"expiry_timestamp"`
	EscrowFeeSats   uint64 `json:"escrow_fee_sats"`
}

func (p *ItemLocked) EventType() Type { return TypeItemLocked }

func (p *ItemLocked) CanonicalMap() map[string]any {
	return map[string]any{
		"offer_id":         p.OfferID,
		"seller_wallet":    p.SellerWallet,
		"buyer_wallet":     p.BuyerWallet,
		"price_sats":       p.PriceSats,
		"expiry_timestamp": p.ExpiryTimestamp,
		"escrow_fee_sats":  p.EscrowFeeSats,
	}
}

// ItemSettled completes an escrowed sale.
type ItemSettled struct {
	OfferID           string         `json:"offer_id"`
	BuyerWallet       string         `json:"buyer_wallet"`
	PriceSats         uint64         `json:"price_sats"`
	PaymentProof      *payment.Proof `json:"payment_proof"`
	SettlementFeeSats uint64         `json:"settlement_fee_sats"`
}

func (p *ItemSettled) EventType() Type { return TypeItemSettled }

func (p *ItemSettled) CanonicalMap() map[string]any {
	m := map[string]any{
		"offer_id":            p.OfferID,
		"buyer_wallet":        p.BuyerWallet,
		"price_sats":          p.PriceSats,
		"settlement_fee_sats": p.SettlementFeeSats,
	}
	if p.PaymentProof != nil {
		m["payment_proof"] = p.PaymentProof.CanonicalMap()
	}
	return m
}

// ItemUnlockedExpired releases an escrow whose offer lapsed.
type ItemUnlockedExpired struct {
	OfferID         string `json:"offer_id"`
	ExpiryTimestamp int64  `json:"expiry_timestamp"`
}

func (p *ItemUnlockedExpired) EventType() Type { return TypeItemUnlockedExpired }

func (p *ItemUnlockedExpired) CanonicalMap() map[string]any {
	return map[string]any{
		"offer_id":         p.OfferID,
		"expiry_timestamp": p.ExpiryTimestamp,
	}
}

// ItemMovedToCustody places an item with a custodian.
type ItemMovedToCustody struct {
	CustodianID string `json:"custodian_id"`
	Reason      string `json:"reason"`
}

func (p *ItemMovedToCustody) EventType() Type { return TypeItemMovedToCustody }

func (p *ItemMovedToCustody) CanonicalMap() map[string]any {
	return map[string]any{
		"custodian_id": p.CustodianID,
		"reason":       p.Reason,
	}
}

// ItemBurned retires an item permanently.
type ItemBurned struct {
	Reason    string `json:"reason"`
	BurnProof string `json:"burn_proof,omitempty"`
}

func (p *ItemBurned) EventType() Type { return TypeItemBurned }

func (p *ItemBurned) CanonicalMap() map[string]any {
	m := map[string]any{
		"reason": p.Reason,
	}
	if p.BurnProof != "" {
		m["burn_proof"] = p.BurnProof
	}
	return m
}

// AuthenticatorRegistered creates an authenticator record.
type AuthenticatorRegistered struct {
	AuthenticatorID     string `json:"authenticator_id"`
	Name                string `json:"name"`
	PublicKey           string `json:"public_key"`
	Specialization      string `json:"specialization"`
	RegistrationFeeSats uint64 `json:"registration_fee_sats"`
}

func (p *AuthenticatorRegistered) EventType() Type { return TypeAuthenticatorRegistered }

func (p *AuthenticatorRegistered) CanonicalMap() map[string]any {
	return map[string]any{
		"authenticator_id":      p.AuthenticatorID,
		"name":                  p.Name,
		"public_key":            p.PublicKey,
		"specialization":        p.Specialization,
		"registration_fee_sats": p.RegistrationFeeSats,
	}
}

// ItemAuthenticated records an authenticator attestation in the item chain.
// The attestation carries its own signature and is hashed whole: the
// authenticator signature inside it is content here, not an envelope
// signature over this event.
type ItemAuthenticated struct {
	Attestation *attestation.Attestation `json:"attestation"`
}

func (p *ItemAuthenticated) EventType() Type { return TypeItemAuthenticated }

func (p *ItemAuthenticated) CanonicalMap() map[string]any {
	if p.Attestation == nil {
		return map[string]any{}
	}
	m := p.Attestation.CanonicalMap()
	m["attestation_id"] = p.Attestation.AttestationID
	m["authenticator_signature"] = p.Attestation.AuthenticatorSignature
	return map[string]any{"attestation": m}
}

// NewPayload returns the zero payload value for an event type.
func NewPayload(t Type) (Payload, error) {
	switch t {
	case TypeManufacturerRegistered:
		return &ManufacturerRegistered{}, nil
	case TypeItemMinted:
		return &ItemMinted{}, nil
	case TypeItemAssigned:
		return &ItemAssigned{}, nil
	case TypeItemLocked:
		return &ItemLocked{}, nil
	case TypeItemSettled:
		return &ItemSettled{}, nil
	case TypeItemUnlockedExpired:
		return &ItemUnlockedExpired{}, nil
	case TypeItemMovedToCustody:
		return &ItemMovedToCustody{}, nil
	case TypeItemBurned:
		return &ItemBurned{}, nil
	case TypeAuthenticatorRegistered:
		return &AuthenticatorRegistered{}, nil
	case TypeItemAuthenticated:
		return &ItemAuthenticated{}, nil
	}
	return nil, ErrUnknownEventType
}
