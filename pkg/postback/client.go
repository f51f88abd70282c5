package postback

import (
	"context"
	"fmt"

	"convtrack/pkg/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

var Module = fx.Module("postback",
	fx.Provide(NewClient),
)

// Result captures one forward attempt against the tracking endpoint.
type Result struct {
	URL        string
	StatusCode int
	Body       string
}

// Sender forwards a consolidated amount downstream. Calls are fire-and-forget:
// the caller records the outcome but never retries.
type Sender interface {
	Send(ctx context.Context, attributionKey, offerID string, amount decimal.Decimal) (*Result, error)
}

type Client struct {
	http    *resty.Client
	baseURL string
}

func NewClient(cfg *config.Config) Sender {
	httpClient := resty.New().
		SetTimeout(cfg.Postback.Timeout).
		SetRetryCount(0)

	return &Client{
		http:    httpClient,
		baseURL: cfg.Postback.BaseURL,
	}
}

func (c *Client) Send(ctx context.Context, attributionKey, offerID string, amount decimal.Decimal) (*Result, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("clickid", attributionKey).
		SetQueryParam("sum", amount.String())

	if offerID != "" {
		req.SetQueryParam("offer_id", offerID)
	}

	resp, err := req.Get(c.baseURL)
	if err != nil {
		return &Result{URL: c.baseURL}, fmt.Errorf("postback request: %w", err)
	}

	result := &Result{
		URL:        resp.Request.URL,
		StatusCode: resp.StatusCode(),
		Body:       resp.String(),
	}

	if resp.IsError() {
		return result, fmt.Errorf("postback responded with status %d", resp.StatusCode())
	}

	return result, nil
}
