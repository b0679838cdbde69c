package iterator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/quarrysearch/quarry/pkg/errors"
	"github.com/quarrysearch/quarry/pkg/resilience"
)

// PartitionPath is the route partitions serve result windows on.
const PartitionPath = "/api/v1/partition"

// HTTPPartitionClient queries a partition over HTTP through a circuit
// breaker, retrying failed requests. A 4xx answer is neither retried nor
// counted against the breaker.
type HTTPPartitionClient struct {
	baseURL string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

func NewHTTPPartitionClient(baseURL string, timeout time.Duration, breaker resilience.CircuitBreakerConfig, retry resilience.RetryConfig) *HTTPPartitionClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &HTTPPartitionClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker("partition:"+baseURL, breaker),
		retry:   retry,
	}
}

func (c *HTTPPartitionClient) Name() string { return c.baseURL }

// Breaker exposes the circuit breaker for health and metrics reporting.
func (c *HTTPPartitionClient) Breaker() *resilience.CircuitBreaker { return c.breaker }

func (c *HTTPPartitionClient) Query(ctx context.Context, req PartitionRequest) (*PartitionResponse, error) {
	var out *PartitionResponse
	err := resilience.Retry(ctx, "partition query", c.retry, func() error {
		return c.breaker.Execute(func() error {
			resp, err := c.do(ctx, req)
			if err != nil {
				return err
			}
			out = resp
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("querying partition %s: %w: %w", c.baseURL, apperrors.ErrPartitionUnavailable, err)
	}
	return out, nil
}

func (c *HTTPPartitionClient) do(ctx context.Context, req PartitionRequest) (*PartitionResponse, error) {
	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("offset", strconv.Itoa(req.Offset))
	q.Set("num", strconv.Itoa(req.Num))
	if req.IndexName != "" {
		q.Set("index", req.IndexName)
	}
	if req.SaveName != "" {
		q.Set("save_name", req.SaveName)
	}
	if len(req.Filter) > 0 {
		q.Set("filter", strings.Join(req.Filter, ","))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PartitionPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("partition returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode < http.StatusInternalServerError {
			// the partition is up and refused this request
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}
	var out PartitionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}
