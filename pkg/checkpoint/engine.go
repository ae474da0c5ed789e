// Copyright 2026 Provenact Labs
//
// Checkpoint engine.
//
// On every interval the engine snapshots the admission sequence since the
// previous checkpoint, builds the Merkle root over the new event ids,
// gathers quorum signatures from the federation, persists the checkpoint,
// and submits its root to the Bitcoin anchor sink. Anchor submission retries
// with backoff; quorum gathering does not: a round that misses quorum is
// dropped and the next tick starts fresh over the same range.

package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/provenact/operator-node/pkg/anchor"
	"github.com/provenact/operator-node/pkg/event"
	"github.com/provenact/operator-node/pkg/keys"
	"github.com/provenact/operator-node/pkg/merkle"
	"github.com/provenact/operator-node/pkg/metrics"
	"github.com/provenact/operator-node/pkg/registry"
	"github.com/provenact/operator-node/pkg/store"
)

// Signer requests a checkpoint co-signature from one peer operator.
type Signer interface {
	SignCheckpoint(ctx context.Context, peer registry.Operator, cp *Checkpoint) (*event.OperatorSignature, error)
}

// Config tunes the engine.
type Config struct {
	OperatorID string
	QuorumM    int

	Interval        time.Duration // checkpoint cadence (default one hour)
	PeerTimeout     time.Duration // per-peer signature deadline
	RPCTimeout      time.Duration // anchor sink call deadline
	SubmitRetries   int           // anchor submission retries after the first attempt
	SubmitBackoff   time.Duration // initial backoff, doubled per retry
	ConfirmInterval time.Duration // confirmation poll cadence
	ConfirmAttempts int           // confirmation polls before giving up

	Logger *log.Logger
	Now    func() int64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		QuorumM:         3,
		Interval:        time.Hour,
		PeerTimeout:     5 * time.Second,
		RPCTimeout:      30 * time.Second,
		SubmitRetries:   3,
		SubmitBackoff:   2 * time.Second,
		ConfirmInterval: 30 * time.Second,
		ConfirmAttempts: 60,
	}
}

// Engine drives checkpointing for one operator.
type Engine struct {
	cfg      *Config
	store    *store.Store
	registry *registry.Registry
	signer   *keys.KeyPair
	peers    Signer
	sink     anchor.Sink
	metrics  *metrics.Metrics
	logger   *log.Logger

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
}

// NewEngine creates a checkpoint engine.
func NewEngine(cfg *Config, st *store.Store, reg *registry.Registry, signer *keys.KeyPair, peers Signer, sink anchor.Sink, m *metrics.Metrics) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if st == nil || reg == nil || signer == nil || sink == nil {
		return nil, fmt.Errorf("store, registry, signer and sink are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[CheckpointEngine] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		registry: reg,
		signer:   signer,
		peers:    peers,
		sink:     sink,
		metrics:  m,
		logger:   cfg.Logger,
		stop:     make(chan struct{}),
	}, nil
}

// Run ticks until the context ends or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return
	}
	e.running = true
	e.runMu.Unlock()

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.logger.Printf("checkpointing every %s", e.cfg.Interval)
	for {
		select {
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil && !errors.Is(err, ErrNothingToCheckpoint) {
				e.logger.Printf("checkpoint round failed: %v", err)
			}
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends a Run loop.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		close(e.stop)
		e.running = false
	}
}

// ErrNothingToCheckpoint reports a quiet interval.
var ErrNothingToCheckpoint = errors.New("no events since the previous checkpoint")

// ErrQuorumNotReached reports a round that missed the signature threshold.
var ErrQuorumNotReached = errors.New("checkpoint quorum not reached")

// Latest returns the newest persisted checkpoint, nil before the first.
func (e *Engine) Latest() (*Checkpoint, error) {
	b, err := e.store.LatestCheckpoint()
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &cp, nil
}

// LatestRoot returns the anchored root of the newest checkpoint, or the
// zero hash before the first checkpoint: the committee seed input.
func (e *Engine) LatestRoot() (string, error) {
	cp, err := e.Latest()
	if err != nil {
		return "", err
	}
	if cp == nil {
		return event.ZeroHash, nil
	}
	root, err := Root(cp.MerkleRoot, cp.PreviousCheckpointHash, cp.Timestamp, e.cfg.Interval.Milliseconds())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", root[:]), nil
}

// RunOnce builds, signs, persists, and anchors one checkpoint.
func (e *Engine) RunOnce(ctx context.Context) (*Checkpoint, error) {
	cp, ids, err := e.Build()
	if err != nil {
		return nil, err
	}

	if err := e.collectSignatures(ctx, cp); err != nil {
		return nil, err
	}

	record, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := e.store.PutCheckpoint(cp.CheckpointID, record); err != nil {
		return nil, fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	if e.metrics != nil {
		e.metrics.CheckpointsBuilt.Inc()
	}
	e.logger.Printf("checkpoint %s covers %d events (%s..%s)",
		cp.CheckpointID[:12], len(ids), cp.FromEventHash[:8], cp.ToEventHash[:8])

	if err := e.anchorCheckpoint(ctx, cp); err != nil {
		// The checkpoint stands; anchoring is retried as a whole next round
		// only via operator intervention, so surface loudly.
		e.logger.Printf("anchoring failed for %s: %v", cp.CheckpointID[:12], err)
	}
	return cp, nil
}

// Build selects the event range since the previous checkpoint and assembles
// an unsigned checkpoint over it.
func (e *Engine) Build() (*Checkpoint, []string, error) {
	prev, err := e.Latest()
	if err != nil {
		return nil, nil, err
	}

	fromSeq := uint64(1)
	prevHash := event.ZeroHash
	if prev != nil {
		fromSeq = prev.ToSequence + 1
		prevHash = prev.CheckpointID
	}
	total, err := e.store.EventCount()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count events: %w", err)
	}
	if total < fromSeq {
		return nil, nil, ErrNothingToCheckpoint
	}

	ids, err := e.store.Range(fromSeq, total)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read event range: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil, ErrNothingToCheckpoint
	}

	tree, err := merkle.BuildFromHex(ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build merkle tree: %w", err)
	}

	cp := &Checkpoint{
		FromEventHash:          ids[0],
		ToEventHash:            ids[len(ids)-1],
		EventCount:             uint64(len(ids)),
		MerkleRoot:             tree.RootHex(),
		PreviousCheckpointHash: prevHash,
		Timestamp:              e.cfg.Now(),
		FromSequence:           fromSeq,
		ToSequence:             fromSeq + uint64(len(ids)) - 1,
	}
	if err := cp.Finalize(); err != nil {
		return nil, nil, err
	}
	return cp, ids, nil
}

// collectSignatures gathers quorum signatures, starting with our own. No
// retries: a failed round is dropped whole.
func (e *Engine) collectSignatures(ctx context.Context, cp *Checkpoint) error {
	digest, err := cp.SigningDigest()
	if err != nil {
		return err
	}
	selfSig, err := e.signer.Sign(digest[:])
	if err != nil {
		return fmt.Errorf("failed to self-sign checkpoint: %w", err)
	}
	self, err := e.registry.Lookup(e.cfg.OperatorID)
	if err != nil {
		return err
	}
	cp.AddOperatorSignature(event.OperatorSignature{
		OperatorID: e.cfg.OperatorID,
		PublicKey:  self.PublicKey,
		Signature:  selfSig,
	})

	peers := e.registry.Peers(e.cfg.OperatorID)
	type response struct {
		peer registry.Operator
		sig  *event.OperatorSignature
		err  error
	}
	responses := make(chan response, len(peers))
	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(p registry.Operator) {
			defer wg.Done()
			peerCtx, cancel := context.WithTimeout(ctx, e.cfg.PeerTimeout)
			defer cancel()
			sig, err := e.peers.SignCheckpoint(peerCtx, p, cp)
			responses <- response{peer: p, sig: sig, err: err}
		}(peer)
	}
	go func() {
		wg.Wait()
		close(responses)
	}()

	nowMs := e.cfg.Now()
	e.registry.RecordCheckpointRound(e.cfg.OperatorID, true, nowMs)
	for resp := range responses {
		if resp.err != nil || resp.sig == nil {
			e.registry.RecordCheckpointRound(resp.peer.OperatorID, false, nowMs)
			if resp.err != nil {
				e.logger.Printf("peer %s did not sign: %v", resp.peer.OperatorID, resp.err)
			}
			continue
		}
		ok := resp.sig.OperatorID == resp.peer.OperatorID &&
			resp.sig.PublicKey == resp.peer.PublicKey &&
			keys.Verify(resp.sig.PublicKey, digest[:], resp.sig.Signature)
		e.registry.RecordCheckpointRound(resp.peer.OperatorID, ok, nowMs)
		if ok {
			cp.AddOperatorSignature(*resp.sig)
		}
	}

	if len(cp.OperatorSignatures) < e.cfg.QuorumM {
		return fmt.Errorf("%w: %d of %d", ErrQuorumNotReached, len(cp.OperatorSignatures), e.cfg.QuorumM)
	}
	return nil
}

// anchorCheckpoint submits the checkpoint root to the Bitcoin sink with
// backoff, then polls for confirmation and stamps the result.
func (e *Engine) anchorCheckpoint(ctx context.Context, cp *Checkpoint) error {
	root, err := Root(cp.MerkleRoot, cp.PreviousCheckpointHash, cp.Timestamp, e.cfg.Interval.Milliseconds())
	if err != nil {
		return err
	}
	sigs := make([]string, 0, len(cp.OperatorSignatures))
	for _, s := range cp.OperatorSignatures {
		sigs = append(sigs, s.Signature)
	}
	payload, err := anchor.EncodePayload(root[:], sigs)
	if err != nil {
		return fmt.Errorf("failed to encode anchor payload: %w", err)
	}

	var submission *anchor.Submission
	backoff := e.cfg.SubmitBackoff
	for attempt := 0; ; attempt++ {
		rpcCtx, cancel := context.WithTimeout(ctx, e.cfg.RPCTimeout)
		submission, err = e.sink.SubmitAnchor(rpcCtx, payload)
		cancel()
		if err == nil {
			break
		}
		if attempt >= e.cfg.SubmitRetries {
			return fmt.Errorf("anchor submission failed after %d attempts: %w", attempt+1, err)
		}
		if e.metrics != nil {
			e.metrics.AnchorRetries.Inc()
		}
		e.logger.Printf("anchor submission attempt %d failed, retrying in %s: %v", attempt+1, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	cp.BitcoinTxID = submission.TxID
	if err := e.persistUpdate(cp); err != nil {
		return err
	}
	e.logger.Printf("anchored checkpoint %s in tx %s", cp.CheckpointID[:12], submission.TxID[:12])

	return e.trackConfirmation(ctx, cp)
}

// trackConfirmation polls the sink until the anchor confirms or the attempt
// budget runs out.
func (e *Engine) trackConfirmation(ctx context.Context, cp *Checkpoint) error {
	for attempt := 0; attempt < e.cfg.ConfirmAttempts; attempt++ {
		rpcCtx, cancel := context.WithTimeout(ctx, e.cfg.RPCTimeout)
		conf, err := e.sink.ConfirmationLookup(rpcCtx, cp.BitcoinTxID)
		cancel()
		if err != nil {
			e.logger.Printf("confirmation lookup failed: %v", err)
		} else if conf != nil {
			cp.BlockHeight = conf.BlockHeight
			cp.AnchoredAt = e.cfg.Now()
			if err := e.persistUpdate(cp); err != nil {
				return err
			}
			if e.metrics != nil {
				e.metrics.CheckpointsAnchored.Inc()
			}
			e.logger.Printf("checkpoint %s confirmed at height %d", cp.CheckpointID[:12], conf.BlockHeight)
			return nil
		}
		select {
		case <-time.After(e.cfg.ConfirmInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("anchor %s unconfirmed after %d polls", cp.BitcoinTxID, e.cfg.ConfirmAttempts)
}

func (e *Engine) persistUpdate(cp *Checkpoint) error {
	record, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return e.store.PutCheckpoint(cp.CheckpointID, record)
}

// CoSignLocal validates a peer's checkpoint against this node's own view of
// the committed range and returns our signature. The transport handler for
// POST /api/checkpoints/sign calls this.
func (e *Engine) CoSignLocal(cp *Checkpoint) (*event.OperatorSignature, error) {
	recomputed := *cp
	recomputed.OperatorSignatures = nil
	if err := recomputed.Finalize(); err != nil {
		return nil, err
	}
	if recomputed.CheckpointID != cp.CheckpointID {
		return nil, fmt.Errorf("checkpoint id mismatch")
	}

	// The proposed range must commit the same event ids we admitted.
	ids, err := e.store.Range(cp.FromSequence, cp.ToSequence)
	if err != nil {
		return nil, fmt.Errorf("failed to read local range: %w", err)
	}
	if uint64(len(ids)) != cp.EventCount {
		return nil, fmt.Errorf("range covers %d local events, checkpoint claims %d", len(ids), cp.EventCount)
	}
	tree, err := merkle.BuildFromHex(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild merkle tree: %w", err)
	}
	if tree.RootHex() != cp.MerkleRoot {
		return nil, fmt.Errorf("merkle root diverges from local history")
	}

	digest, err := cp.SigningDigest()
	if err != nil {
		return nil, err
	}
	sig, err := e.signer.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign checkpoint: %w", err)
	}
	self, err := e.registry.Lookup(e.cfg.OperatorID)
	if err != nil {
		return nil, err
	}
	return &event.OperatorSignature{
		OperatorID: e.cfg.OperatorID,
		PublicKey:  self.PublicKey,
		Signature:  sig,
	}, nil
}

// VerifyAnchor recomputes a checkpoint's root and checks it against an
// OP_RETURN script observed on Bitcoin.
func VerifyAnchor(cp *Checkpoint, script []byte, intervalMs int64) (bool, error) {
	payload, err := anchor.ParseScript(script)
	if err != nil {
		return false, err
	}
	root, err := Root(cp.MerkleRoot, cp.PreviousCheckpointHash, cp.Timestamp, intervalMs)
	if err != nil {
		return false, err
	}
	return payload.CheckpointHash == root, nil
}
