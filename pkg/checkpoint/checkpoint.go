// Copyright 2026 Provenact Labs
//
// Checkpoint data structure: a signed Merkle commitment over a contiguous
// run of admitted events, linked to its predecessor and destined for a
// Bitcoin OP_RETURN anchor.

package checkpoint

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/provenact/operator-node/pkg/canonical"
	"github.com/provenact/operator-node/pkg/event"
)

var ErrBadCheckpointID = errors.New("checkpoint id is not a 32-byte hex hash")

// Checkpoint commits the events in [FromSequence, ToSequence].
type Checkpoint struct {
	CheckpointID           string                    `json:"checkpoint_id"`
	FromEventHash          string                    `json:"from_event_hash"`
	ToEventHash            string                    `json:"to_event_hash"`
	EventCount             uint64                    `json:"event_count"`
	MerkleRoot             string                    `json:"merkle_root"`
	PreviousCheckpointHash string                    `json:"previous_checkpoint_hash"`
	Timestamp              int64                     `json:"timestamp"`
	OperatorSignatures     []event.OperatorSignature `json:"operator_signatures,omitempty"`

	// Anchoring results, stamped on confirmation.
	BitcoinTxID string `json:"bitcoin_tx_id,omitempty"`
	BlockHeight int64  `json:"block_height,omitempty"`
	AnchoredAt  int64  `json:"anchored_at,omitempty"`

	// Sequence bounds in the node's admission order. Local bookkeeping for
	// range selection; not part of the signed content.
	FromSequence uint64 `json:"from_sequence"`
	ToSequence   uint64 `json:"to_sequence"`
}

// CanonicalMap returns the signed portion: everything except the id, the
// sequence bounds, the operator signatures, and the anchoring results.
func (c *Checkpoint) CanonicalMap() map[string]any {
	return map[string]any{
		"from_event_hash":          c.FromEventHash,
		"to_event_hash":            c.ToEventHash,
		"event_count":              c.EventCount,
		"merkle_root":              c.MerkleRoot,
		"previous_checkpoint_hash": c.PreviousCheckpointHash,
		"timestamp":                c.Timestamp,
	}
}

// SigningDigest is the 32-byte message operators sign.
func (c *Checkpoint) SigningDigest() ([32]byte, error) {
	return canonical.Hash(c.CanonicalMap())
}

// Finalize computes and stores the checkpoint id.
func (c *Checkpoint) Finalize() error {
	digest, err := c.SigningDigest()
	if err != nil {
		return fmt.Errorf("failed to hash checkpoint: %w", err)
	}
	c.CheckpointID = hex.EncodeToString(digest[:])
	return nil
}

// AddOperatorSignature appends sig unless the operator already signed.
func (c *Checkpoint) AddOperatorSignature(sig event.OperatorSignature) bool {
	for _, existing := range c.OperatorSignatures {
		if existing.OperatorID == sig.OperatorID {
			return false
		}
	}
	c.OperatorSignatures = append(c.OperatorSignatures, sig)
	return true
}

// Root computes the anchored checkpoint root:
// SHA256(merkleRoot || previousCheckpointHash || timestampBucket), where the
// bucket is the checkpoint timestamp truncated to the engine interval.
func Root(merkleRootHex, previousHashHex string, timestampMs, intervalMs int64) ([32]byte, error) {
	var out [32]byte
	root, err := hex.DecodeString(merkleRootHex)
	if err != nil || len(root) != 32 {
		return out, fmt.Errorf("merkle root is not a 32-byte hex hash")
	}
	prev, err := hex.DecodeString(previousHashHex)
	if err != nil || len(prev) != 32 {
		return out, fmt.Errorf("previous checkpoint hash is not a 32-byte hex hash")
	}
	bucket := timestampMs
	if intervalMs > 0 {
		bucket = timestampMs - timestampMs%intervalMs
	}
	digest := canonical.HashConcat(root, prev, []byte(fmt.Sprintf("%d", bucket)))
	copy(out[:], digest)
	return out, nil
}
