// Copyright 2026 Provenact Labs
//
// Quorum signature collection.
//
// A candidate event built by ProposeEvent carries one signature: the
// proposer's. The collector fans the candidate out to peer operators, each
// of which validates independently and returns a co-signature over the same
// event id. Signatures are additive; collection stops at M distinct valid
// signatures or at the deadline. Candidates that never reach M simply age
// out of the pending pool with their timestamp window.

package quorum

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/provenact/operator-node/pkg/event"
	"github.com/provenact/operator-node/pkg/keys"
	"github.com/provenact/operator-node/pkg/registry"
)

// PeerClient requests a co-signature from one peer operator.
type PeerClient interface {
	SignEvent(ctx context.Context, peer registry.Operator, ev *event.Event) (*event.OperatorSignature, error)
}

// Config tunes the collector.
type Config struct {
	QuorumM     int
	PeerTimeout time.Duration // per-peer deadline
	WindowMs    int64         // pending-candidate lifetime (the past-clock window)
	Logger      *log.Logger
}

// DefaultConfig returns collector defaults for a 3-of-5 federation.
func DefaultConfig() *Config {
	return &Config{
		QuorumM:     3,
		PeerTimeout: 5 * time.Second,
		WindowMs:    24 * 60 * 60 * 1000,
		Logger:      log.New(log.Writer(), "[QuorumCollector] ", log.LstdFlags),
	}
}

// Result reports one collection round.
type Result struct {
	CollectionID  uuid.UUID         `json:"collection_id"`
	EventID       string            `json:"event_id"`
	QuorumReached bool              `json:"quorum_reached"`
	Signatures    int               `json:"signatures"`
	Required      int               `json:"required"`
	PeerErrors    map[string]string `json:"peer_errors,omitempty"`
	Duration      time.Duration     `json:"duration"`
}

// Collector gathers operator signatures for candidate events.
type Collector struct {
	cfg      *Config
	registry *registry.Registry
	selfID   string
	client   PeerClient

	mu      sync.Mutex
	pending map[string]int64 // eventID -> candidate timestamp, for window reaping
}

// New creates a collector.
func New(cfg *Config, reg *registry.Registry, selfID string, client PeerClient) (*Collector, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[QuorumCollector] ", log.LstdFlags)
	}
	if reg == nil || client == nil {
		return nil, fmt.Errorf("registry and peer client are required")
	}
	return &Collector{
		cfg:      cfg,
		registry: reg,
		selfID:   selfID,
		client:   client,
		pending:  make(map[string]int64),
	}, nil
}

// Collect circulates a candidate to every peer in parallel and applies their
// signatures until M distinct valid ones accompany the event. The event is
// mutated in place; on a true result it is ready for submission everywhere.
func (c *Collector) Collect(ctx context.Context, ev *event.Event) (*Result, error) {
	if ev == nil || ev.EventID == "" {
		return nil, fmt.Errorf("candidate has no event id")
	}
	start := time.Now()
	c.track(ev)

	digest, err := ev.SigningDigest()
	if err != nil {
		return nil, fmt.Errorf("bad candidate id: %w", err)
	}

	result := &Result{
		CollectionID: uuid.New(),
		EventID:      ev.EventID,
		Required:     c.cfg.QuorumM,
		PeerErrors:   make(map[string]string),
	}

	if c.validCount(ev, digest) >= c.cfg.QuorumM {
		result.QuorumReached = true
		result.Signatures = len(ev.OperatorSignatures)
		result.Duration = time.Since(start)
		return result, nil
	}

	peers := c.registry.Peers(c.selfID)
	type peerResponse struct {
		peer registry.Operator
		sig  *event.OperatorSignature
		err  error
	}
	responses := make(chan peerResponse, len(peers))

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(p registry.Operator) {
			defer wg.Done()
			peerCtx, cancel := context.WithTimeout(ctx, c.cfg.PeerTimeout)
			defer cancel()
			sig, err := c.client.SignEvent(peerCtx, p, ev)
			responses <- peerResponse{peer: p, sig: sig, err: err}
		}(peer)
	}
	go func() {
		wg.Wait()
		close(responses)
	}()

	for resp := range responses {
		if resp.err != nil {
			result.PeerErrors[resp.peer.OperatorID] = resp.err.Error()
			continue
		}
		if resp.sig == nil {
			continue
		}
		if resp.sig.OperatorID != resp.peer.OperatorID || resp.sig.PublicKey != resp.peer.PublicKey {
			result.PeerErrors[resp.peer.OperatorID] = "signature identity mismatch"
			continue
		}
		if !keys.Verify(resp.sig.PublicKey, digest, resp.sig.Signature) {
			result.PeerErrors[resp.peer.OperatorID] = "signature does not verify"
			continue
		}
		if ev.AddOperatorSignature(*resp.sig) {
			c.registry.Touch(resp.peer.OperatorID, time.Now().UnixMilli())
			c.cfg.Logger.Printf("signature %d/%d from %s for %s",
				len(ev.OperatorSignatures), c.cfg.QuorumM, resp.peer.OperatorID, shortID(ev.EventID))
		}
		if len(ev.OperatorSignatures) >= c.cfg.QuorumM {
			break
		}
	}

	result.Signatures = len(ev.OperatorSignatures)
	result.QuorumReached = result.Signatures >= c.cfg.QuorumM
	result.Duration = time.Since(start)
	if result.QuorumReached {
		c.untrack(ev.EventID)
	}
	return result, nil
}

// validCount counts signatures that verify and belong to registered
// operators under their declared ids.
func (c *Collector) validCount(ev *event.Event, digest []byte) int {
	n := 0
	for _, sig := range ev.OperatorSignatures {
		op, err := c.registry.Lookup(sig.OperatorID)
		if err != nil || op.PublicKey != sig.PublicKey {
			continue
		}
		if keys.Verify(sig.PublicKey, digest, sig.Signature) {
			n++
		}
	}
	return n
}

func (c *Collector) track(ev *event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[ev.EventID] = ev.Timestamp
}

func (c *Collector) untrack(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, eventID)
}

// PendingCount returns the number of candidates still awaiting quorum.
func (c *Collector) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Reap evicts candidates whose admission window has closed at nowMs.
func (c *Collector) Reap(nowMs int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for id, ts := range c.pending {
		if nowMs-ts > c.cfg.WindowMs {
			delete(c.pending, id)
			evicted++
		}
	}
	return evicted
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}
