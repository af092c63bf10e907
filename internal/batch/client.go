// Package batch implements the burst-amortizing coalescer described in
// §4.6: a fixed-size (N=20) buffer backed by the ephemeral cache's atomic
// list operations, flushed at size or on a periodic timer, with
// partial-failure requeue semantics. Grounded on
// original_source/verdict/src/verdict/batch_client.py.
package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/dispatch/actions"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/obs"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/ports"
)

const (
	// MaxBatchSize is the API's hard per-request limit (N=20).
	MaxBatchSize       = 20
	defaultBufferKey   = "verdict:batch_buffer"
	defaultFlushPeriod = 2 * time.Second
)

type subResponse struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type batchResponseEnvelope struct {
	Responses []subResponse `json:"responses"`
}

// Client buffers batch sub-requests for one tenant and flushes them in
// groups of up to MaxBatchSize.
type Client struct {
	TenantID   string
	BatchURL   string
	Cache      ports.Cache
	Tokens     ports.TokenProvider
	HTTPClient *http.Client
	Breaker    *gobreaker.CircuitBreaker
	BufferKey  string
	Metrics    *obs.Metrics
	Log        *zap.SugaredLogger
}

func New(tenantID, batchURL string, cache ports.Cache, tokens ports.TokenProvider, httpClient *http.Client, log *zap.SugaredLogger) *Client {
	return &Client{
		TenantID:   tenantID,
		BatchURL:   batchURL,
		Cache:      cache,
		Tokens:     tokens,
		HTTPClient: httpClient,
		BufferKey:  defaultBufferKey + ":" + tenantID,
		Log:        log,
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "remediation-batch-" + tenantID,
			MaxRequests: 1,
		}),
	}
}

// Add pushes request onto the buffer's tail; if the buffer has reached
// MaxBatchSize it flushes immediately.
func (c *Client) Add(ctx context.Context, request actions.BatchRequest) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal batch request: %w", err)
	}
	if err := c.Cache.ListPush(ctx, c.BufferKey, string(payload)); err != nil {
		return fmt.Errorf("push to batch buffer: %w", err)
	}

	length, err := c.Cache.ListLen(ctx, c.BufferKey)
	if err != nil {
		return fmt.Errorf("check batch buffer length: %w", err)
	}
	if length >= MaxBatchSize {
		_, err := c.Flush(ctx)
		return err
	}
	return nil
}

// BufferSize reports the current buffer length.
func (c *Client) BufferSize(ctx context.Context) (int64, error) {
	return c.Cache.ListLen(ctx, c.BufferKey)
}

// Flush atomically pops up to MaxBatchSize items, POSTs them as one
// $batch payload, and applies the per-subrequest requeue rules: 429 ->
// requeue that item; >=400 -> log and drop (terminal); transport failure
// of the POST itself -> requeue every popped item. Returns the number of
// items considered successful.
func (c *Client) Flush(ctx context.Context) (int, error) {
	raw, err := c.Cache.ListPopN(ctx, c.BufferKey, MaxBatchSize)
	if err != nil {
		return 0, fmt.Errorf("pop batch buffer: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}

	requests := make([]actions.BatchRequest, 0, len(raw))
	byID := map[string]string{}
	for _, item := range raw {
		var req actions.BatchRequest
		if err := json.Unmarshal([]byte(item), &req); err != nil {
			c.logw("dropping malformed batch buffer item", "error", err)
			continue
		}
		requests = append(requests, req)
		byID[req.ID] = item
	}
	if len(requests) == 0 {
		return 0, nil
	}

	token, err := c.Tokens.GetToken(ctx, c.TenantID)
	if err != nil {
		c.requeueAll(ctx, raw)
		c.countFlush("token_error")
		return 0, fmt.Errorf("fetch batch token: %w", err)
	}

	responses, err := c.post(ctx, requests, token)
	if err != nil {
		c.logw("batch POST transport failure, requeuing all", "count", len(raw), "error", err)
		c.requeueAll(ctx, raw)
		c.countFlush("transport_error")
		return 0, err
	}
	c.countFlush("success")

	succeeded := 0
	for _, resp := range responses {
		switch {
		case resp.Status == 429:
			if item, ok := byID[resp.ID]; ok {
				_ = c.Cache.ListPush(ctx, c.BufferKey, item)
			}
		case resp.Status >= 400:
			c.logw("batch sub-request terminal failure, dropping", "id", resp.ID, "status", resp.Status)
		default:
			succeeded++
		}
	}
	return succeeded, nil
}

func (c *Client) post(ctx context.Context, requests []actions.BatchRequest, token string) ([]subResponse, error) {
	result, err := c.Breaker.Execute(func() (interface{}, error) {
		payload, err := json.Marshal(map[string]interface{}{"requests": requests})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BatchURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var envelope batchResponseEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return nil, fmt.Errorf("decode batch response: %w", err)
		}
		return envelope.Responses, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]subResponse), nil
}

func (c *Client) requeueAll(ctx context.Context, items []string) {
	for _, item := range items {
		_ = c.Cache.ListPush(ctx, c.BufferKey, item)
	}
}

func (c *Client) countFlush(outcome string) {
	if c.Metrics != nil {
		c.Metrics.BatchFlushes.WithLabelValues(outcome).Inc()
	}
}

func (c *Client) logw(msg string, kv ...interface{}) {
	if c.Log != nil {
		c.Log.Warnw(msg, kv...)
	}
}

// StartPeriodicFlush runs Flush every period (default 2s) until ctx is
// cancelled, so low-volume tenants don't stall on a partial batch.
func (c *Client) StartPeriodicFlush(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = defaultFlushPeriod
	}
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.Flush(ctx); err != nil {
					c.logw("periodic flush failed", "tenant", c.TenantID, "error", err)
				}
			}
		}
	}()
}
