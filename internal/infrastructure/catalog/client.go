// Package catalog implements the price catalog port against the external
// medication catalog service. Calls go through a circuit breaker so a
// degraded catalog cannot stall fulfillment requests indefinitely.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medassure/go-dispense/internal/port"
	"github.com/medassure/go-dispense/pkg/circuitbreaker"
)

// Client fetches unit prices over HTTP
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewClient creates a catalog client for the given base URL
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("price-catalog"), logger),
		logger:  logger,
		tracer:  otel.Tracer("price-catalog"),
	}
}

type priceResponse struct {
	Prices map[string]string `json:"prices"`
}

// UnitPrices resolves the unit price for each medication. Any medication the
// catalog does not know yields port.ErrNotFound.
func (c *Client) UnitPrices(ctx context.Context, medicationIDs []string) (map[string]decimal.Decimal, error) {
	ctx, span := c.tracer.Start(ctx, "catalog_unit_prices",
		trace.WithAttributes(attribute.Int("medication_count", len(medicationIDs))))
	defer span.End()

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.fetch(ctx, medicationIDs)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result.(map[string]decimal.Decimal), nil
}

func (c *Client) fetch(ctx context.Context, medicationIDs []string) (map[string]decimal.Decimal, error) {
	q := url.Values{"ids": []string{strings.Join(medicationIDs, ",")}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/prices?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(medicationIDs))
	for _, id := range medicationIDs {
		raw, ok := body.Prices[id]
		if !ok {
			return nil, fmt.Errorf("%w: medication %s has no catalog price", port.ErrNotFound, id)
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse price for %s: %w", id, err)
		}
		prices[id] = price
	}
	return prices, nil
}

// Static is a fixed in-process price table for development and tests
type Static struct {
	prices map[string]decimal.Decimal
}

// NewStatic creates a catalog from a fixed price table
func NewStatic(prices map[string]decimal.Decimal) *Static {
	cp := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &Static{prices: cp}
}

func (s *Static) UnitPrices(ctx context.Context, medicationIDs []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(medicationIDs))
	for _, id := range medicationIDs {
		price, ok := s.prices[id]
		if !ok {
			return nil, fmt.Errorf("%w: medication %s has no catalog price", port.ErrNotFound, id)
		}
		out[id] = price
	}
	return out, nil
}
