package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const pivotCurrency = "INR"

// Client is the HTTP implementation of Gateway.
type Client struct {
	baseURL string
	c       *http.Client
}

// NewClient builds a gateway client. The timeout bounds the only network
// hop in a payment recording; when it fires the whole operation aborts.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		c:       &http.Client{Timeout: timeout},
	}
}

type convertResponse struct {
	Amount decimal.Decimal `json:"amount"`
}

// ToINR converts amount from the given currency to INR.
func (c *Client) ToINR(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	return c.convert(ctx, amount, currency, pivotCurrency)
}

// FromINR converts an INR amount to the given currency.
func (c *Client) FromINR(ctx context.Context, amountINR decimal.Decimal, currency string) (decimal.Decimal, error) {
	return c.convert(ctx, amountINR, pivotCurrency, currency)
}

func (c *Client) convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("amount", amount.String())
	q.Set("from", from)
	q.Set("to", to)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/convert?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fx: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.c.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	return out.Amount, nil
}
