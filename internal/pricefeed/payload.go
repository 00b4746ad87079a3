// Package pricefeed keeps a last-known-good price for the featured token.
// Upstream APIs are fetched with retries behind a circuit breaker, and
// callers get the cached value (flagged stale) whenever upstream is down.
package pricefeed

import (
	"bytes"
	"encoding/json"
	"time"
)

// PricePayload is one upstream answer: the raw document plus the numbers
// consumers need.
type PricePayload struct {
	Data        json.RawMessage `json:"data"`
	USD         float64         `json:"usd"`
	Native      float64         `json:"native,omitempty"`
	HasNative   bool            `json:"hasNative,omitempty"`
	Source      string          `json:"source"`
	SchemaValid bool            `json:"schemaValid"`
}

func (p PricePayload) clone() PricePayload {
	p.Data = bytes.Clone(p.Data)
	return p
}

// CachedPrice is the last validated payload and when it was fetched
type CachedPrice struct {
	Payload     PricePayload `json:"payload"`
	LastUpdated time.Time    `json:"lastUpdated"`
}

func (c *CachedPrice) clone() *CachedPrice {
	if c == nil {
		return nil
	}
	return &CachedPrice{Payload: c.Payload.clone(), LastUpdated: c.LastUpdated}
}
