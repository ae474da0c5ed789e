// Copyright 2026 Provenact Labs
//
// Bitcoin anchor commitments.
//
// A confirmed checkpoint is committed into Bitcoin as a single OP_RETURN
// output. The pushed data is bit-exact:
//
//   checkpointHash (32B) || sigCount (1B) || sigPrefix1 (32B) || sigPrefix2 (32B) || sigPrefix3 (32B)
//
// where each prefix is the first 32 bytes of one quorum signature, zero
// padded when fewer than three exist. Submission and confirmation lookup go
// through an injected sink so the core never owns wallet keys or RPC
// credentials.

package anchor

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// PayloadSize is the pushed OP_RETURN data length.
const PayloadSize = 32 + 1 + 3*32

var (
	ErrBadCheckpointHash = errors.New("checkpoint hash must be 32 bytes")
	ErrNotAnchorScript   = errors.New("script is not an anchor OP_RETURN")
)

// Payload is the decoded OP_RETURN content.
type Payload struct {
	CheckpointHash [32]byte
	SigCount       uint8
	SigPrefixes    [3][32]byte
}

// EncodePayload builds the 129-byte OP_RETURN data from a checkpoint hash and
// the hex signatures that endorsed it.
func EncodePayload(checkpointHash []byte, signatures []string) ([]byte, error) {
	if len(checkpointHash) != 32 {
		return nil, ErrBadCheckpointHash
	}
	if len(signatures) > 255 {
		return nil, fmt.Errorf("signature count %d does not fit one byte", len(signatures))
	}

	out := make([]byte, 0, PayloadSize)
	out = append(out, checkpointHash...)
	out = append(out, byte(len(signatures)))

	for i := 0; i < 3; i++ {
		var prefix [32]byte
		if i < len(signatures) {
			sigBytes, err := hex.DecodeString(signatures[i])
			if err != nil {
				return nil, fmt.Errorf("signature %d is not hex: %w", i, err)
			}
			copy(prefix[:], sigBytes)
		}
		out = append(out, prefix[:]...)
	}
	return out, nil
}

// DecodePayload parses OP_RETURN data back into its fields.
func DecodePayload(data []byte) (*Payload, error) {
	if len(data) != PayloadSize {
		return nil, fmt.Errorf("anchor payload must be %d bytes, got %d", PayloadSize, len(data))
	}
	p := &Payload{SigCount: data[32]}
	copy(p.CheckpointHash[:], data[:32])
	for i := 0; i < 3; i++ {
		copy(p.SigPrefixes[i][:], data[33+i*32:33+(i+1)*32])
	}
	return p, nil
}

// BuildScript assembles the full OP_RETURN output script.
func BuildScript(payload []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData(payload).
		Script()
}

// ParseScript extracts the anchor payload from an output script.
func ParseScript(script []byte) (*Payload, error) {
	if len(script) == 0 || script[0] != txscript.OP_RETURN {
		return nil, ErrNotAnchorScript
	}
	// The payload exceeds 75 bytes, so the canonical push is OP_PUSHDATA1.
	if len(script) < 3 || script[1] != txscript.OP_PUSHDATA1 || int(script[2]) != PayloadSize {
		return nil, ErrNotAnchorScript
	}
	data := script[3:]
	if len(data) != PayloadSize {
		return nil, ErrNotAnchorScript
	}
	return DecodePayload(data)
}

// BuildTx wraps the anchor script in an unfunded transaction. The sink's
// wallet adds inputs, change, and signatures before broadcast.
func BuildTx(payload []byte) (*wire.MsgTx, string, error) {
	script, err := BuildScript(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build anchor script: %w", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(0, script))

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to serialize anchor tx: %w", err)
	}
	return tx, hex.EncodeToString(buf.Bytes()), nil
}

// Submission is the sink's receipt for a broadcast anchor.
type Submission struct {
	TxID  string `json:"txid"`
	RawTx string `json:"raw_tx"`
}

// Confirmation reports an anchor's inclusion in a block.
type Confirmation struct {
	BlockHeight int64  `json:"block_height"`
	BlockHash   string `json:"block_hash"`
}

// Sink is the injected boundary to a funded Bitcoin wallet and node.
type Sink interface {
	// SubmitAnchor funds, signs, and broadcasts a transaction carrying the
	// given OP_RETURN payload.
	SubmitAnchor(ctx context.Context, payload []byte) (*Submission, error)
	// ConfirmationLookup returns nil, nil while the transaction is unconfirmed.
	ConfirmationLookup(ctx context.Context, txid string) (*Confirmation, error)
}
