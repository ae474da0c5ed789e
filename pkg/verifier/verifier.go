// Copyright 2026 Provenact Labs
//
// Client-side verifier.
//
// A buyer trusts no single operator. The scanner queries every known
// operator in parallel, groups the responses by the item's chain tip, picks
// the first group with at least M agreeing operators, and then re-verifies
// the winning chain end to end locally: hashes, heights, timestamps,
// transition legality, and M-of-N operator signatures on every event. Up to
// N-M operators can lie without affecting the outcome.

package verifier

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/provenact/operator-node/pkg/attestation"
	"github.com/provenact/operator-node/pkg/event"
	"github.com/provenact/operator-node/pkg/keys"
	"github.com/provenact/operator-node/pkg/node"
	"github.com/provenact/operator-node/pkg/registry"
	"github.com/provenact/operator-node/pkg/state"
)

// OperatorClient fetches protocol data from one operator.
type OperatorClient interface {
	GetItemProof(ctx context.Context, op registry.Operator, itemID string) (*node.ItemProof, error)
	GetAttestations(ctx context.Context, op registry.Operator, itemID string) ([]attestation.Attestation, error)
	GetAuthenticator(ctx context.Context, op registry.Operator, authenticatorID string) (*state.Authenticator, error)
}

// Config tunes the scanner.
type Config struct {
	QuorumM      int
	PeerTimeout  time.Duration // per-operator deadline
	ScanDeadline time.Duration // whole-scan budget
	Logger       *log.Logger
	Now          func() int64
}

// DefaultConfig returns scanner defaults for a 3-of-5 federation.
func DefaultConfig() *Config {
	return &Config{
		QuorumM:      3,
		PeerTimeout:  5 * time.Second,
		ScanDeadline: 15 * time.Second,
	}
}

// VerifiedAttestation decorates an attestation with its validity verdict.
type VerifiedAttestation struct {
	Attestation attestation.Attestation `json:"attestation"`
	IsValid     bool                    `json:"is_valid"`
	Reason      string                  `json:"reason,omitempty"`
}

// ScanResult is the verifier's verdict on one item.
type ScanResult struct {
	ScanID              uuid.UUID             `json:"scan_id"`
	ItemID              string                `json:"item_id"`
	IsAuthentic         bool                  `json:"is_authentic"`
	Item                *state.Item           `json:"item,omitempty"`
	Events              []*event.Event        `json:"events,omitempty"`
	Manufacturer        *state.Manufacturer   `json:"manufacturer,omitempty"`
	Attestations        []VerifiedAttestation `json:"attestations,omitempty"`
	Anchored            bool                  `json:"anchored"`
	Warnings            []string              `json:"warnings,omitempty"`
	RespondingOperators int                   `json:"responding_operators"`
	AgreeingOperators   int                   `json:"agreeing_operators"`
	ScannedAt           int64                 `json:"scanned_at"`
}

// Scanner performs cross-operator quorum verification.
type Scanner struct {
	cfg      *Config
	registry *registry.Registry
	client   OperatorClient
	logger   *log.Logger
}

// New creates a scanner.
func New(cfg *Config, reg *registry.Registry, client OperatorClient) (*Scanner, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if reg == nil || client == nil {
		return nil, fmt.Errorf("registry and operator client are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Scanner] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Scanner{cfg: cfg, registry: reg, client: client, logger: cfg.Logger}, nil
}

type operatorResponse struct {
	operator registry.Operator
	proof    *node.ItemProof
}

// Scan runs the full cross-operator verification for one item.
func (s *Scanner) Scan(ctx context.Context, itemID string) *ScanResult {
	result := &ScanResult{
		ScanID:    uuid.New(),
		ItemID:    itemID,
		ScannedAt: s.cfg.Now(),
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanDeadline)
	defer cancel()

	// 1. Fan out to every operator. Transport failures contribute nothing.
	responses := s.fanOut(scanCtx, itemID)
	result.RespondingOperators = len(responses)
	if len(responses) < s.cfg.QuorumM {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("insufficient responses: %d of %d required", len(responses), s.cfg.QuorumM))
		return result
	}

	// 2. Group by chain tip and pick the first group reaching M.
	chosen, agreeing := s.majorityGroup(responses, result)
	if chosen == nil {
		result.Warnings = append(result.Warnings, "no quorum consensus among operator responses")
		return result
	}
	result.AgreeingOperators = agreeing

	// 3. Re-verify the winning chain end to end.
	item := chosen.proof.Item
	events := chosen.proof.Events
	if err := s.verifyChain(item, events); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("chain verification failed: %v", err))
		return result
	}

	// 4. Resolve the manufacturer from the chain itself.
	mfr, warn := resolveManufacturer(events)
	if warn != "" {
		result.Warnings = append(result.Warnings, warn)
	}

	// 5. Decorations: anchor status, attestations.
	for _, ev := range events {
		if ev.AnchorTxHash != "" {
			result.Anchored = true
			break
		}
	}
	result.Attestations = s.collectAttestations(scanCtx, itemID)

	result.IsAuthentic = true
	result.Item = item
	result.Events = events
	result.Manufacturer = mfr
	return result
}

// fanOut queries all operators in parallel and keeps parseable responses
// with a non-nil item and a valid operator signature over the chain tip.
func (s *Scanner) fanOut(ctx context.Context, itemID string) []operatorResponse {
	operators := s.registry.All()
	out := make(chan operatorResponse, len(operators))
	var wg sync.WaitGroup
	for _, op := range operators {
		wg.Add(1)
		go func(op registry.Operator) {
			defer wg.Done()
			opCtx, cancel := context.WithTimeout(ctx, s.cfg.PeerTimeout)
			defer cancel()
			proof, err := s.client.GetItemProof(opCtx, op, itemID)
			if err != nil || proof == nil || proof.Item == nil {
				return
			}
			// Authenticate the response itself: the proof signature must be
			// by the registry key of the operator we asked.
			if proof.OperatorID != op.OperatorID || proof.PublicKey != op.PublicKey {
				return
			}
			digest, err := node.ProofDigest(proof.Item)
			if err != nil || !keys.Verify(op.PublicKey, digest[:], proof.Signature) {
				return
			}
			out <- operatorResponse{operator: op, proof: proof}
		}(op)
	}
	wg.Wait()
	close(out)

	responses := make([]operatorResponse, 0, len(operators))
	for r := range out {
		responses = append(responses, r)
	}
	return responses
}

// majorityGroup buckets responses by (itemId, state, lastEventHash,
// lastEventHeight) and returns the first bucket with at least M members.
func (s *Scanner) majorityGroup(responses []operatorResponse, result *ScanResult) (*operatorResponse, int) {
	type groupKey struct {
		itemID string
		state  state.ItemState
		hash   string
		height uint64
	}
	groups := make(map[groupKey][]*operatorResponse)
	order := make([]groupKey, 0, len(responses))
	for i := range responses {
		item := responses[i].proof.Item
		key := groupKey{item.ItemID, item.CurrentState, item.LastEventHash, item.LastEventHeight}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], &responses[i])
	}
	if len(groups) > 1 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("operators diverge: %d distinct chain tips observed", len(groups)))
	}
	for _, key := range order {
		group := groups[key]
		if len(group) >= s.cfg.QuorumM {
			return group[0], len(group)
		}
	}
	return nil, 0
}

// verifyChain replays the event list against every protocol invariant.
func (s *Scanner) verifyChain(item *state.Item, events []*event.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("empty event chain")
	}

	var current state.ItemState
	started := false
	var prev *event.Event

	for i, ev := range events {
		// Hash integrity: the id must recompute bit for bit.
		id, err := ev.ComputeID()
		if err != nil {
			return fmt.Errorf("event %d does not canonicalize: %w", i, err)
		}
		if id != ev.EventID {
			return fmt.Errorf("event %d id mismatch", i)
		}

		// Link integrity.
		if i == 0 {
			if ev.PreviousEventHash != event.ZeroHash {
				return fmt.Errorf("chain head has a non-zero previous hash")
			}
			if ev.Height != 1 {
				return fmt.Errorf("chain head height is %d, want 1", ev.Height)
			}
		} else {
			if ev.PreviousEventHash != prev.EventID {
				return fmt.Errorf("event %d breaks the hash chain", i)
			}
			if ev.Height != prev.Height+1 {
				return fmt.Errorf("event %d height %d does not follow %d", i, ev.Height, prev.Height)
			}
			if ev.Timestamp < prev.Timestamp {
				return fmt.Errorf("event %d timestamp regresses", i)
			}
		}

		// Quorum on every event.
		if err := s.verifyEventQuorum(ev); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}

		// Independent transition walk.
		switch ev.EventType {
		case event.TypeManufacturerRegistered, event.TypeAuthenticatorRegistered:
			if started {
				return fmt.Errorf("registration event %d after item creation", i)
			}
		case event.TypeItemMinted:
			if started {
				return fmt.Errorf("duplicate mint at event %d", i)
			}
			if p, ok := ev.Payload.(*event.ItemMinted); ok {
				derived := event.ComputeItemID(p.ManufacturerID, p.MetadataHash, ev.Timestamp)
				if derived != item.ItemID {
					return fmt.Errorf("item id does not derive from the mint event")
				}
			}
			started = true
			current = state.StateMinted
		default:
			if !started {
				return fmt.Errorf("item event %d before mint", i)
			}
			next, ok := state.Next(current, ev.EventType)
			if !ok {
				return fmt.Errorf("event %d: %s illegal in state %s", i, ev.EventType, current)
			}
			current = next
		}
		prev = ev
	}

	if !started {
		return fmt.Errorf("chain has no mint event")
	}

	// The replayed chain must land exactly on the claimed snapshot.
	tail := events[len(events)-1]
	if item.LastEventHash != tail.EventID || item.LastEventHeight != tail.Height {
		return fmt.Errorf("item snapshot does not match the chain tail")
	}
	if item.CurrentState != current {
		return fmt.Errorf("item state %s does not match replayed state %s", item.CurrentState, current)
	}
	return nil
}

// verifyEventQuorum checks M distinct valid registry signatures on one event.
func (s *Scanner) verifyEventQuorum(ev *event.Event) error {
	digest, err := ev.SigningDigest()
	if err != nil {
		return fmt.Errorf("bad event id: %w", err)
	}
	seen := make(map[string]bool)
	for _, sig := range ev.OperatorSignatures {
		op, err := s.registry.Lookup(sig.OperatorID)
		if err != nil || op.PublicKey != sig.PublicKey || seen[sig.OperatorID] {
			continue
		}
		if keys.Verify(sig.PublicKey, digest, sig.Signature) {
			seen[sig.OperatorID] = true
		}
	}
	if len(seen) < s.cfg.QuorumM {
		return fmt.Errorf("%d of %d operator signatures", len(seen), s.cfg.QuorumM)
	}
	return nil
}

// resolveManufacturer finds the registration event backing the mint.
func resolveManufacturer(events []*event.Event) (*state.Manufacturer, string) {
	var mintMfr string
	for _, ev := range events {
		if p, ok := ev.Payload.(*event.ItemMinted); ok {
			mintMfr = p.ManufacturerID
			break
		}
	}
	for _, ev := range events {
		if p, ok := ev.Payload.(*event.ManufacturerRegistered); ok && p.ManufacturerID == mintMfr {
			return &state.Manufacturer{
				ManufacturerID:  p.ManufacturerID,
				Name:            p.Name,
				IssuerPublicKey: p.IssuerPublicKey,
				Status:          state.StatusActive,
				RegisteredAt:    ev.Timestamp,
			}, ""
		}
	}
	return nil, "manufacturer registration not present in chain"
}

// collectAttestations unions attestations across operators, dedupes by id,
// and grades each against signature, expiry, and authenticator status.
func (s *Scanner) collectAttestations(ctx context.Context, itemID string) []VerifiedAttestation {
	operators := s.registry.All()
	seen := make(map[string]attestation.Attestation)
	var order []string

	for _, op := range operators {
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.PeerTimeout)
		atts, err := s.client.GetAttestations(opCtx, op, itemID)
		cancel()
		if err != nil {
			continue
		}
		for _, att := range atts {
			if _, dup := seen[att.AttestationID]; !dup {
				seen[att.AttestationID] = att
				order = append(order, att.AttestationID)
			}
		}
	}

	now := s.cfg.Now()
	out := make([]VerifiedAttestation, 0, len(order))
	for _, id := range order {
		att := seen[id]
		out = append(out, s.gradeAttestation(ctx, att, now))
	}
	return out
}

func (s *Scanner) gradeAttestation(ctx context.Context, att attestation.Attestation, nowMs int64) VerifiedAttestation {
	v := VerifiedAttestation{Attestation: att}
	if att.Expired(nowMs) {
		v.Reason = "expired"
		return v
	}

	auth := s.fetchAuthenticator(ctx, att.AuthenticatorID)
	if auth == nil {
		v.Reason = "authenticator unknown"
		return v
	}
	if auth.Status != state.StatusActive {
		v.Reason = fmt.Sprintf("authenticator %s", auth.Status)
		return v
	}
	if !att.VerifySignature(auth.PublicKey) {
		v.Reason = "signature invalid"
		return v
	}
	v.IsValid = true
	return v
}

// fetchAuthenticator asks operators in turn until one returns the record.
func (s *Scanner) fetchAuthenticator(ctx context.Context, authenticatorID string) *state.Authenticator {
	for _, op := range s.registry.All() {
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.PeerTimeout)
		auth, err := s.client.GetAuthenticator(opCtx, op, authenticatorID)
		cancel()
		if err == nil && auth != nil {
			return auth
		}
	}
	return nil
}
