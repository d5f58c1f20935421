// Package gatewayhttp speaks the payment gateway's fixed HTTP contract:
// POST {saleId, cardNumber, amount} to /pay, answered by {status} or a
// non-2xx response.
package gatewayhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/internal/checkout"
)

// Client is a pure request/response boundary plus classification. It makes
// no retries and no durability claims.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient constructs a gateway client. Every Authorize call is bounded by
// timeout on top of whatever deadline the caller's context carries.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

type authorizeRequest struct {
	SaleID     int64           `json:"saleId"`
	CardNumber string          `json:"cardNumber"`
	Amount     decimal.Decimal `json:"amount"`
}

type authorizeResponse struct {
	Status string `json:"status"`
}

// Authorize submits the payment request and classifies the response.
//
// 2xx with a known status is a terminal outcome. 4xx means the gateway
// rejected the request before charging, which is terminal Failed. Anything
// else (5xx, timeout, transport error, unknown status body) is
// ErrGatewayTransient: silence is never read as a decline.
func (c *Client) Authorize(ctx context.Context, saleID int64, amount decimal.Decimal, cardNumber string) (checkout.Outcome, error) {
	payload, err := json.Marshal(authorizeRequest{
		SaleID:     saleID,
		CardNumber: cardNumber,
		Amount:     amount,
	})
	if err != nil {
		return checkout.Outcome{}, fmt.Errorf("encode authorize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/pay", bytes.NewReader(payload))
	if err != nil {
		return checkout.Outcome{}, fmt.Errorf("build authorize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return checkout.Outcome{}, fmt.Errorf("%w: %v", checkout.ErrGatewayTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return checkout.Outcome{}, fmt.Errorf("%w: read response: %v", checkout.ErrGatewayTransient, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var decoded authorizeResponse
		if err := json.Unmarshal(body, &decoded); err != nil {
			return checkout.Outcome{}, fmt.Errorf("%w: malformed response body: %v", checkout.ErrGatewayTransient, err)
		}
		switch decoded.Status {
		case string(checkout.StatusPaid):
			return checkout.Outcome{Status: checkout.StatusPaid, Raw: decoded.Status}, nil
		case string(checkout.StatusDeclined):
			return checkout.Outcome{Status: checkout.StatusDeclined, Raw: decoded.Status}, nil
		default:
			return checkout.Outcome{}, fmt.Errorf("%w: unrecognized status %q", checkout.ErrGatewayTransient, decoded.Status)
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The gateway refused the request outright; no charge happened.
		return checkout.Outcome{
			Status: checkout.StatusFailed,
			Raw:    fmt.Sprintf("%d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}, nil
	default:
		return checkout.Outcome{}, fmt.Errorf("%w: gateway returned %d", checkout.ErrGatewayTransient, resp.StatusCode)
	}
}
