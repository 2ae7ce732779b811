package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/roach88/feedsync/internal/model"
)

// HTTPPerformer performs mutations and full fetches against a JSON HTTP API:
//
//	POST {base}/mutations   body: Op      reply: Result
//	GET  {base}/state                     reply: {"patches": [...]}
//
// Every request carries the bearer token.
type HTTPPerformer struct {
	baseURL string
	token   string
	client  *http.Client
}

var (
	_ Performer = (*HTTPPerformer)(nil)
	_ Fetcher   = (*HTTPPerformer)(nil)
)

// NewHTTPPerformer creates a performer for baseURL. A nil client uses
// http.DefaultClient; timeouts come from the caller's context.
func NewHTTPPerformer(baseURL, token string, client *http.Client) *HTTPPerformer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPerformer{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// Perform posts op and decodes the authoritative result.
func (p *HTTPPerformer) Perform(ctx context.Context, op Op) (Result, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return Result{}, fmt.Errorf("perform %s: encode: %w", op.Kind, err)
	}
	var res Result
	if err := p.do(ctx, http.MethodPost, "/mutations", body, &res); err != nil {
		return Result{}, fmt.Errorf("perform %s: %w", op.Kind, err)
	}
	return res, nil
}

// FetchAll downloads the full state.
func (p *HTTPPerformer) FetchAll(ctx context.Context) ([]model.Patch, error) {
	var res struct {
		Patches []model.Patch `json:"patches"`
	}
	if err := p.do(ctx, http.MethodGet, "/state", nil, &res); err != nil {
		return nil, fmt.Errorf("fetch state: %w", err)
	}
	return res.Patches, nil
}

func (p *HTTPPerformer) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if err := statusError(resp.StatusCode, data); err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode reply: %v", ErrRejected, err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrUnauthorized, code, msg)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, code, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, code, msg)
	}
}
