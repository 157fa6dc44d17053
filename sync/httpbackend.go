/*
httpbackend.go - the production Backend: a plain net/http client
against the tenant backend's REST surface. Grounded on
cuemby-warren/pkg/health/http.go's NewRequestWithContext-plus-Client
shape, generalized from a single GET health probe to the three calls
the sync engine needs (push an operation, pull a dataset page, verify
an API key).
*/
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fieldstack/terminal-core/errs"
	"github.com/fieldstack/terminal-core/pairing"
	"github.com/fieldstack/terminal-core/queue"
)

// HTTPBackend talks to the tenant backend over HTTPS. It reads the
// current API key from pairing on every call rather than caching it,
// so a key rotation (or clearing on AUTH_INVALID) takes effect
// immediately without restarting the engine.
type HTTPBackend struct {
	baseURL string
	pairing *pairing.Pairing
	client  *http.Client
}

// NewHTTPBackend builds a Backend bound to baseURL, signing every
// request with the terminal's current API key.
func NewHTTPBackend(baseURL string, p *pairing.Pairing, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		pairing: p,
		client:  &http.Client{Timeout: timeout},
	}
}

type operationRequest struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	LocalOrderID string `json:"local_order_id"`
	Payload      string `json:"payload"`
	Signature    string `json:"signature"`
}

type operationResponse struct {
	Outcome           string `json:"outcome"`
	ServerOrderID     string `json:"server_order_id"`
	ServerOrderNumber string `json:"server_order_number"`
	ConflictReason    string `json:"conflict_reason"`
	ErrorBody         string `json:"error_body"`
}

var outcomeFromWire = map[string]queue.Outcome{
	"ACCEPTED":  queue.OutcomeAccepted,
	"RETRYABLE": queue.OutcomeRetryable,
	"PERMANENT": queue.OutcomePermanent,
	"CONFLICT":  queue.OutcomeConflict,
}

// Send pushes one queued operation to the backend.
func (b *HTTPBackend) Send(ctx context.Context, op queue.Operation, signature string) (queue.Result, error) {
	body, err := json.Marshal(operationRequest{
		ID:           op.ID,
		Kind:         string(op.Kind),
		LocalOrderID: op.LocalOrderID,
		Payload:      op.PayloadJSON,
		Signature:    signature,
	})
	if err != nil {
		return queue.Result{}, fmt.Errorf("sync: encode operation: %w", err)
	}

	var resp operationResponse
	if err := b.do(ctx, http.MethodPost, "/v1/operations", body, &resp); err != nil {
		return queue.Result{}, err
	}

	outcome, ok := outcomeFromWire[resp.Outcome]
	if !ok {
		outcome = queue.OutcomeRetryable
	}
	return queue.Result{
		Outcome:           outcome,
		ServerOrderID:     resp.ServerOrderID,
		ServerOrderNumber: resp.ServerOrderNumber,
		ConflictReason:    resp.ConflictReason,
		ErrorBody:         resp.ErrorBody,
	}, nil
}

type datasetPageWire struct {
	Version    int64           `json:"version"`
	Records    json.RawMessage `json:"records"`
	DeletedIDs []string        `json:"deleted_ids"`
}

// PullDataset fetches every change to key since modifiedSince.
func (b *HTTPBackend) PullDataset(ctx context.Context, key string, modifiedSince int64) (DatasetPage, error) {
	path := fmt.Sprintf("/v1/datasets/%s?since=%s", url.PathEscape(key), strconv.FormatInt(modifiedSince, 10))

	var wire datasetPageWire
	if err := b.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return DatasetPage{}, err
	}
	return DatasetPage{Version: wire.Version, Records: wire.Records, DeletedIDs: wire.DeletedIDs}, nil
}

// VerifyIdentity confirms apiKey is still accepted by the backend.
func (b *HTTPBackend) VerifyIdentity(ctx context.Context, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v1/identity/verify", nil)
	if err != nil {
		return fmt.Errorf("sync: build identity request: %w", err)
	}
	req.Header.Set("X-API-Key", apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errs.New(errs.KindAuthInvalid, "backend rejected api key")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.New(errs.KindNetworkError, "identity check returned %d", resp.StatusCode)
	}
	return nil
}

// do performs one request/response cycle against the backend, signing
// it with the current API key and decoding a JSON response into out.
func (b *HTTPBackend) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("sync: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	apiKey, err := b.pairing.APIKey(ctx)
	if err != nil {
		return fmt.Errorf("sync: read api key: %w", err)
	}
	req.Header.Set("X-API-Key", apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(errs.KindTimeout, err)
		}
		return errs.Wrap(errs.KindNetworkError, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errs.New(errs.KindAuthInvalid, "backend rejected api key")
	}
	// A 409 still carries a body (conflict_reason and friends) that the
	// caller needs decoded into a proper OutcomeConflict result, so it
	// falls through to the decode step below instead of short-circuiting
	// here like every other non-2xx status.
	if resp.StatusCode != http.StatusConflict && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return errs.New(errs.KindNetworkError, "backend returned %d", resp.StatusCode)
	}

	if out == nil {
		if resp.StatusCode == http.StatusConflict {
			return errs.New(errs.KindConflict, "backend reported a conflict")
		}
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sync: decode response: %w", err)
	}
	return nil
}
