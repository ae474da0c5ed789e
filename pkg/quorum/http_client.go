// Copyright 2026 Provenact Labs
//
// HTTP peer client: the concrete PeerClient used between federation nodes.
// Peers expose POST /api/events/sign; the body is the candidate event in its
// JSON wire form, the response this operator's signature.

package quorum

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

// HTTPPeerClient implements PeerClient over plain HTTP/JSON.
type HTTPPeerClient struct {
	client *http.Client
}

// NewHTTPPeerClient creates a client with the given transport timeout.
func NewHTTPPeerClient(timeout time.Duration) *HTTPPeerClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPeerClient{client: &http.Client{Timeout: timeout}}
}

// SignEvent implements PeerClient.
func (h *HTTPPeerClient) SignEvent(ctx context.Context, peer registry.Operator, ev *event.Event) (*event.OperatorSignature, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidate: %w", err)
	}

	url := strings.TrimSuffix(peer.Endpoint, "/") + "/api/events/sign"
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
