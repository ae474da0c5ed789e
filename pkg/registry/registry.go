// Copyright 2026 Provenact Labs
//
// Operator registry: the configured N federation members, their keys and
// endpoints, and the signing-activity stats behind the active-operator
// predicate used by committee selection.

package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// OperatorStatus is the administrative state of a federation member.
type OperatorStatus string

const (
	OperatorActive   OperatorStatus = "active"
	OperatorInactive OperatorStatus = "inactive"
)

var (
	ErrUnknownOperator = errors.New("operator not in registry")
	ErrEmptyRegistry   = errors.New("operator registry is empty")
)

// Operator is one federation member.
type Operator struct {
	OperatorID    string         `json:"operator_id" yaml:"operator_id"`
	PublicKey     string         `json:"public_key" yaml:"public_key"`
	PayoutAddress string         `json:"payout_address" yaml:"payout_address"`
	Endpoint      string         `json:"endpoint" yaml:"endpoint"`
	Status        OperatorStatus `json:"status" yaml:"status"`
}

// Activity tracks one operator's recent checkpoint participation.
type Activity struct {
	CheckpointsSigned     int   `json:"checkpoints_signed"`
	RecentCheckpointCount int   `json:"recent_checkpoint_count"`
	LastActiveAt          int64 `json:"last_active_at"`
}

// Registry holds the operator set. Reads return copies; mutation happens
// under one exclusive lock.
type Registry struct {
	mu        sync.RWMutex
	operators map[string]Operator
	order     []string
	activity  map[string]Activity
}

// registryFile is the YAML shape of the operators file.
type registryFile struct {
	Operators []Operator `yaml:"operators"`
}

// New builds a registry from a fixed operator list.
func New(operators []Operator) (*Registry, error) {
	if len(operators) == 0 {
		return nil, ErrEmptyRegistry
	}
	r := &Registry{
		operators: make(map[string]Operator, len(operators)),
		activity:  make(map[string]Activity, len(operators)),
	}
	for _, op := range operators {
		if op.OperatorID == "" || op.PublicKey == "" {
			return nil, fmt.Errorf("operator entry missing id or public key: %+v", op)
		}
		if op.Status == "" {
			op.Status = OperatorActive
		}
		if _, dup := r.operators[op.OperatorID]; dup {
			return nil, fmt.Errorf("duplicate operator id %q", op.OperatorID)
		}
		r.operators[op.OperatorID] = op
		r.order = append(r.order, op.OperatorID)
	}
	sort.Strings(r.order)
	return r, nil
}

// LoadFile reads the operators YAML file.
func LoadFile(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read operators file: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("failed to parse operators file: %w", err)
	}
	return New(f.Operators)
}

// Size returns N, the configured federation size.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.operators)
}

// Lookup returns one operator by id.
func (r *Registry) Lookup(operatorID string) (Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.operators[operatorID]
	if !ok {
		return Operator{}, fmt.Errorf("%w: %s", ErrUnknownOperator, operatorID)
	}
	return op, nil
}

// ByPublicKey returns the operator owning a public key.
func (r *Registry) ByPublicKey(pubHex string) (Operator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, op := range r.operators {
		if op.PublicKey == pubHex {
			return op, true
		}
	}
	return Operator{}, false
}

// All returns the operator set in stable id order.
func (r *Registry) All() []Operator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Operator, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.operators[id])
	}
	return out
}

// Peers returns every operator except selfID.
func (r *Registry) Peers(selfID string) []Operator {
	all := r.All()
	out := make([]Operator, 0, len(all))
	for _, op := range all {
		if op.OperatorID != selfID {
			out = append(out, op)
		}
	}
	return out
}

// RecordCheckpointRound notes that a checkpoint round happened and whether
// the operator signed it.
func (r *Registry) RecordCheckpointRound(operatorID string, signed bool, nowMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.activity[operatorID]
	a.RecentCheckpointCount++
	if signed {
		a.CheckpointsSigned++
		a.LastActiveAt = nowMs
	}
	r.activity[operatorID] = a
}

// Touch marks an operator as seen (peer query answered, event co-signed).
func (r *Registry) Touch(operatorID string, nowMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.activity[operatorID]
	if nowMs > a.LastActiveAt {
		a.LastActiveAt = nowMs
	}
	r.activity[operatorID] = a
}

// ActivityFor returns a copy of one operator's stats.
func (r *Registry) ActivityFor(operatorID string) Activity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activity[operatorID]
}

// Active returns the operators satisfying the active predicate at nowMs:
// administratively active, signature ratio over recent checkpoints at least
// minRatio, and seen within inactivityMs. An operator with no checkpoint
// history yet passes the ratio test.
func (r *Registry) Active(nowMs int64, minRatio float64, inactivityMs int64) []Operator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Operator, 0, len(r.order))
	for _, id := range r.order {
		op := r.operators[id]
		if op.Status != OperatorActive {
			continue
		}
		a := r.activity[id]
		if a.RecentCheckpointCount > 0 {
			ratio := float64(a.CheckpointsSigned) / float64(a.RecentCheckpointCount)
			if ratio < minRatio {
				continue
			}
		}
		if a.LastActiveAt != 0 && nowMs-a.LastActiveAt > inactivityMs {
			continue
		}
		out = append(out, op)
	}
	return out
}
