// Copyright 2026 Provenact Labs
//
// Recording sink: an in-process Sink for tests and dry runs. It "broadcasts"
// by remembering the transaction and confirms after a configurable number of
// lookups, which lets the checkpoint engine's confirmation loop run end to
// end without a Bitcoin node.

package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
)

// RecordingSink implements Sink in memory.
type RecordingSink struct {
	mu sync.Mutex

	// ConfirmAfterLookups is how many ConfirmationLookup calls a tx sees
	// before it confirms. Zero confirms on the first lookup.
	ConfirmAfterLookups int
	// FailSubmissions makes SubmitAnchor fail this many times before
	// succeeding, for retry/backoff tests.
	FailSubmissions int

	submissions map[string][]byte // txid -> payload
	lookups     map[string]int
	nextHeight  int64
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{
		submissions: make(map[string][]byte),
		lookups:     make(map[string]int),
		nextHeight:  850_000,
	}
}

// SubmitAnchor implements Sink.
func (s *RecordingSink) SubmitAnchor(_ context.Context, payload []byte) (*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailSubmissions > 0 {
		s.FailSubmissions--
		return nil, errors.New("sink temporarily unavailable")
	}

	_, rawTx, err := BuildTx(payload)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256([]byte(rawTx))
	txid := hex.EncodeToString(digest[:])
	s.submissions[txid] = append([]byte(nil), payload...)
	return &Submission{TxID: txid, RawTx: rawTx}, nil
}

// ConfirmationLookup implements Sink.
func (s *RecordingSink) ConfirmationLookup(_ context.Context, txid string) (*Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.submissions[txid]; !ok {
		return nil, errors.New("unknown transaction")
	}
	s.lookups[txid]++
	if s.lookups[txid] <= s.ConfirmAfterLookups {
		return nil, nil
	}
	s.nextHeight++
	blockDigest := sha256.Sum256([]byte(txid))
	return &Confirmation{
		BlockHeight: s.nextHeight,
		BlockHash:   hex.EncodeToString(blockDigest[:]),
	}, nil
}

// Payload returns the payload recorded for a txid.
func (s *RecordingSink) Payload(txid string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.submissions[txid]
	return p, ok
}

// SubmissionCount returns how many anchors were broadcast.
func (s *RecordingSink) SubmissionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submissions)
}
