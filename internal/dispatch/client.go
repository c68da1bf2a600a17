package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/lead-router/internal/domain"
	"github.com/ignite/lead-router/internal/pkg/httpretry"
	"github.com/shopspring/decimal"
)

// Errors returned by buyer clients.
var (
	ErrUnexpectedStatus  = errors.New("buyer returned unexpected status")
	ErrMalformedResponse = errors.New("buyer response is not well formed")
)

const maxResponseBytes = 64 << 10

// Response is a buyer's answer to a delivery.
type Response struct {
	Accepted   bool
	Price      *decimal.Decimal
	StatusCode int
	Summary    string
}

// Client delivers a lead to a buyer endpoint.
type Client interface {
	Deliver(ctx context.Context, route domain.Route, lead *domain.Lead) (Response, error)
}

type deliveryRequest struct {
	LeadID   string         `json:"lead_id"`
	Vertical string         `json:"vertical"`
	Fields   map[string]any `json:"fields"`
}

type deliveryResponse struct {
	Accepted *bool            `json:"accepted"`
	Price    *decimal.Decimal `json:"price"`
	Reason   string           `json:"reason"`
}

// HTTPClient posts leads as JSON to the route endpoint, authenticating with
// the route's bearer token.
type HTTPClient struct {
	http httpretry.HTTPDoer
}

// NewHTTPClient wraps doer, typically a *httpretry.RetryClient.
func NewHTTPClient(doer httpretry.HTTPDoer) *HTTPClient {
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, 1)
	}
	return &HTTPClient{http: doer}
}

// Deliver implements Client.
func (c *HTTPClient) Deliver(ctx context.Context, route domain.Route, lead *domain.Lead) (Response, error) {
	body, err := json.Marshal(deliveryRequest{LeadID: lead.ID, Vertical: lead.Vertical, Fields: lead.Fields})
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode lead: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, route.Endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Lead-ID", lead.ID)
	if route.Endpoint.Token != "" {
		req.Header.Set("Authorization", "Bearer "+route.Endpoint.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("delivery to %s failed: %w", route.ID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{StatusCode: resp.StatusCode}, fmt.Errorf("failed to read buyer response: %w", err)
	}

	out := Response{StatusCode: resp.StatusCode, Summary: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var decoded deliveryResponse
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded.Accepted == nil {
		return out, ErrMalformedResponse
	}
	out.Accepted = *decoded.Accepted
	out.Price = decoded.Price
	if decoded.Reason != "" {
		out.Summary += " " + truncate(decoded.Reason, 120)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
