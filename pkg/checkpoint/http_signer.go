// Copyright 2026 Provenact Labs
//
// HTTP checkpoint signer: asks a peer operator to co-sign a checkpoint via
// POST /api/checkpoints/sign.

package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/provenact/operator-node/pkg/event"
	"github.com/provenact/operator-node/pkg/registry"
)

// HTTPSigner implements Signer over plain HTTP/JSON.
type HTTPSigner struct {
	client *http.Client
}

// NewHTTPSigner creates a signer client with the given transport timeout.
func NewHTTPSigner(timeout time.Duration) *HTTPSigner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSigner{client: &http.Client{Timeout: timeout}}
}

// SignCheckpoint implements Signer.
func (h *HTTPSigner) SignCheckpoint(ctx context.Context, peer registry.Operator, cp *Checkpoint) (*event.OperatorSignature, error) {
	body, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	url := strings.TrimSuffix(peer.Endpoint, "/") + "/api/checkpoints/sign"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("peer %s unreachable: %w", peer.OperatorID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("peer %s refused: %s (%d)", peer.OperatorID, apiErr.Error, resp.StatusCode)
	}

	var sig event.OperatorSignature
	if err := json.NewDecoder(resp.Body).Decode(&sig); err != nil {
		return nil, fmt.Errorf("peer %s returned malformed signature: %w", peer.OperatorID, err)
	}
	return &sig, nil
}
