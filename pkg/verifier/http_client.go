// Copyright 2026 Provenact Labs
//
// HTTP operator client for the scanner.

package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/provenact/operator-node/pkg/attestation"
	"github.com/provenact/operator-node/pkg/node"
	"github.com/provenact/operator-node/pkg/registry"
	"github.com/provenact/operator-node/pkg/state"
)

// HTTPOperatorClient implements OperatorClient over plain HTTP/JSON.
type HTTPOperatorClient struct {
	client *http.Client
}

// NewHTTPOperatorClient creates a client with the given transport timeout.
func NewHTTPOperatorClient(timeout time.Duration) *HTTPOperatorClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPOperatorClient{client: &http.Client{Timeout: timeout}}
}

func (h *HTTPOperatorClient) get(ctx context.Context, op registry.Operator, path string, out any) error {
	endpoint := strings.TrimSuffix(op.Endpoint, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("operator %s unreachable: %w", op.OperatorID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("operator %s returned %d", op.OperatorID, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetItemProof implements OperatorClient.
func (h *HTTPOperatorClient) GetItemProof(ctx context.Context, op registry.Operator, itemID string) (*node.ItemProof, error) {
	var proof node.ItemProof
	err := h.get(ctx, op, "/api/items/"+url.PathEscape(itemID)+"/proof", &proof)
	if err != nil {
		return nil, err
	}
	return &proof, nil
}

// GetAttestations implements OperatorClient.
func (h *HTTPOperatorClient) GetAttestations(ctx context.Context, op registry.Operator, itemID string) ([]attestation.Attestation, error) {
	var atts []attestation.Attestation
	err := h.get(ctx, op, "/api/items/"+url.PathEscape(itemID)+"/attestations", &atts)
	if err != nil {
		return nil, err
	}
	return atts, nil
}

// GetAuthenticator implements OperatorClient.
func (h *HTTPOperatorClient) GetAuthenticator(ctx context.Context, op registry.Operator, authenticatorID string) (*state.Authenticator, error) {
	var auth state.Authenticator
	err := h.get(ctx, op, "/api/authenticators/"+url.PathEscape(authenticatorID), &auth)
	if err != nil {
		return nil, err
	}
	if auth.AuthenticatorID == "" {
		return nil, nil
	}
	return &auth, nil
}
