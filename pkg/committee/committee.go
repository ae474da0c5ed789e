// Copyright 2026 Provenact Labs
//
// Committee selection and fee distribution.
//
// Every settlement pays a fee to a committee of K operators chosen by a
// deterministic lottery seeded by (offerId, latestCheckpointRoot, chainId).
// Any party holding those inputs and the active-operator set reproduces the
// selection bit for bit; verification is re-derivation, never parsing the
// seed back apart.

package committee

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/provenact/operator-node/pkg/registry"
)

var (
	ErrInsufficientOperators = errors.New("active operator set is smaller than the committee size")
	ErrCommitteeBelowQuorum  = errors.New("committee size is below the signature quorum")
)

const seedSeparator = "||"

// Member is one selected operator with its lottery score and fee share.
type Member struct {
	OperatorID    string `json:"operator_id"`
	PayoutAddress string `json:"payout_address"`
	Score         string `json:"score"`
	FeeSats       uint64 `json:"fee_sats"`
}

// Selection is the reproducible outcome for one settlement.
type Selection struct {
	OfferID        string   `json:"offer_id"`
	CheckpointRoot string   `json:"checkpoint_root"`
	ChainID        string   `json:"chain_id"`
	Seed           string   `json:"seed"`
	Members        []Member `json:"members"`
	TotalFeeSats   uint64   `json:"total_fee_sats"`
}

// Seed derives the selection seed: SHA256(offerId || "||" || checkpointRoot
// || "||" || chainId).
func Seed(offerID, checkpointRoot, chainID string) [32]byte {
	h := sha256.New()
	h.Write([]byte(offerID))
	h.Write([]byte(seedSeparator))
	h.Write([]byte(checkpointRoot))
	h.Write([]byte(seedSeparator))
	h.Write([]byte(chainID))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// score derives one operator's lottery ticket from the seed.
func score(seed [32]byte, operatorID string) string {
	h := sha256.New()
	h.Write(seed[:])
	h.Write([]byte(seedSeparator))
	h.Write([]byte(operatorID))
	return hex.EncodeToString(h.Sum(nil))
}

// Select ranks the active operators by score and picks the first K, then
// splits totalFeeSats across them. The input order of active is irrelevant.
func Select(offerID, checkpointRoot, chainID string, active []registry.Operator, k, m int, totalFeeSats uint64) (*Selection, error) {
	if k < m {
		return nil, fmt.Errorf("%w: K=%d < M=%d", ErrCommitteeBelowQuorum, k, m)
	}
	if len(active) < k {
		return nil, fmt.Errorf("%w: %d active, need %d", ErrInsufficientOperators, len(active), k)
	}

	seed := Seed(offerID, checkpointRoot, chainID)

	ranked := make([]Member, 0, len(active))
	for _, op := range active {
		ranked = append(ranked, Member{
			OperatorID:    op.OperatorID,
			PayoutAddress: op.PayoutAddress,
			Score:         score(seed, op.OperatorID),
		})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score < ranked[j].Score })
	ranked = ranked[:k]

	fees := DistributeFees(totalFeeSats, k)
	for i := range ranked {
		ranked[i].FeeSats = fees[i]
	}

	return &Selection{
		OfferID:        offerID,
		CheckpointRoot: checkpointRoot,
		ChainID:        chainID,
		Seed:           hex.EncodeToString(seed[:]),
		Members:        ranked,
		TotalFeeSats:   totalFeeSats,
	}, nil
}

// DistributeFees splits total across k shares: base = total/k, and the first
// (total mod k) ranked members receive one extra sat.
func DistributeFees(total uint64, k int) []uint64 {
	if k <= 0 {
		return nil
	}
	base := total / uint64(k)
	remainder := total % uint64(k)
	out := make([]uint64, k)
	for i := range out {
		out[i] = base
		if uint64(i) < remainder {
			out[i]++
		}
	}
	return out
}

// Verify re-derives the selection from its inputs and the active set and
// compares member by member. The seed is recomputed from the original
// inputs: it is a digest and cannot be split back into them.
func Verify(sel *Selection, active []registry.Operator, k, m int) error {
	if sel == nil {
		return errors.New("selection is nil")
	}
	rederived, err := Select(sel.OfferID, sel.CheckpointRoot, sel.ChainID, active, k, m, sel.TotalFeeSats)
	if err != nil {
		return fmt.Errorf("failed to re-derive selection: %w", err)
	}
	if rederived.Seed != sel.Seed {
		return errors.New("seed mismatch")
	}
	if len(rederived.Members) != len(sel.Members) {
		return errors.New("member count mismatch")
	}
	for i := range rederived.Members {
		if rederived.Members[i] != sel.Members[i] {
			return fmt.Errorf("member %d mismatch: %s vs %s",
				i, rederived.Members[i].OperatorID, sel.Members[i].OperatorID)
		}
	}
	return nil
}

// FeeReport aggregates one operator's earnings across settlements.
type FeeReport struct {
	OperatorID      string `json:"operator_id"`
	Settlements     int    `json:"settlements"`
	TotalEarnedSats uint64 `json:"total_earned_sats"`
}

// Aggregate folds selections into per-operator earnings, sorted by id.
func Aggregate(selections []*Selection) []FeeReport {
	byOp := make(map[string]*FeeReport)
	for _, sel := range selections {
		for _, m := range sel.Members {
			r, ok := byOp[m.OperatorID]
			if !ok {
				r = &FeeReport{OperatorID: m.OperatorID}
				byOp[m.OperatorID] = r
			}
			r.Settlements++
			r.TotalEarnedSats += m.FeeSats
		}
	}
	out := make([]FeeReport, 0, len(byOp))
	for _, r := range byOp {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OperatorID < out[j].OperatorID })
	return out
}
