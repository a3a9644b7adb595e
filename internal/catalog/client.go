package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
)

var (
	// ErrInsufficientStock is a definitive business outcome, never retried.
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrItemNotFound      = errors.New("item not found in catalog")
	// ErrCatalogUnavailable is returned once the transport retry budget is
	// exhausted or the circuit breaker is open.
	ErrCatalogUnavailable = errors.New("catalog service unavailable")
)

// ItemInfo is the catalog's view of an item. Quantity is a point-in-time
// reading and must never be used to decide a reservation.
type ItemInfo struct {
	Title    string  `json:"title"`
	Quantity int32   `json:"quantity"`
	Price    float64 `json:"price"`
}

// API is the outbound port to the catalog service.
type API interface {
	Info(ctx context.Context, itemID int64) (*ItemInfo, error)
	Stock(ctx context.Context, itemID int64) (int32, error)
	Reserve(ctx context.Context, itemID int64, quantity int32, token string) error
	Release(ctx context.Context, itemID int64, quantity int32, token string) error
}

type Config struct {
	BaseURLs       []string
	RequestTimeout time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
}

// Client talks to the catalog replicas round-robin over HTTP. Transport
// failures and 5xx responses are retried with exponential backoff up to
// MaxAttempts; definitive answers (2xx, 4xx) are never retried. A timeout is
// treated as "outcome unknown": resolution happens by replaying the same
// idempotency token, never by guessing.
type Client struct {
	urls        []string
	next        atomic.Uint64
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	timeout     time.Duration
	maxAttempts int
	baseBackoff time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if len(cfg.BaseURLs) == 0 {
		return nil, errors.New("at least one catalog base URL is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "catalog",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("catalog breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Client{
		urls: cfg.BaseURLs,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
		breaker:     breaker,
		timeout:     cfg.RequestTimeout,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
	}, nil
}

func (c *Client) Info(ctx context.Context, itemID int64) (*ItemInfo, error) {
	status, body, err := c.call(ctx, http.MethodGet, fmt.Sprintf("/info/%d", itemID), nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		var info ItemInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return nil, fmt.Errorf("unmarshal item info: %w", err)
		}
		return &info, nil
	case http.StatusNotFound:
		return nil, ErrItemNotFound
	default:
		return nil, fmt.Errorf("catalog info returned unexpected status %d", status)
	}
}

func (c *Client) Stock(ctx context.Context, itemID int64) (int32, error) {
	status, body, err := c.call(ctx, http.MethodGet, fmt.Sprintf("/stock/%d", itemID), nil)
	if err != nil {
		return 0, err
	}
	switch status {
	case http.StatusOK:
		var resp struct {
			Quantity int32 `json:"quantity"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return 0, fmt.Errorf("unmarshal stock response: %w", err)
		}
		return resp.Quantity, nil
	case http.StatusNotFound:
		return 0, ErrItemNotFound
	default:
		return 0, fmt.Errorf("catalog stock returned unexpected status %d", status)
	}
}

type reserveRequest struct {
	Quantity int32  `json:"quantity"`
	Token    string `json:"token"`
}

// Reserve asks the catalog to atomically decrement stock, tagged with the
// idempotency token. Replaying the same token returns the prior outcome
// instead of decrementing twice.
func (c *Client) Reserve(ctx context.Context, itemID int64, quantity int32, token string) error {
	status, _, err := c.call(ctx, http.MethodPost, fmt.Sprintf("/reserve/%d", itemID),
		reserveRequest{Quantity: quantity, Token: token})
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		return ErrInsufficientStock
	case http.StatusNotFound:
		return ErrItemNotFound
	default:
		return fmt.Errorf("catalog reserve returned unexpected status %d", status)
	}
}

// Release reverses a reservation made with the same token. The catalog treats
// an already-released token as success, so calling it twice is safe.
func (c *Client) Release(ctx context.Context, itemID int64, quantity int32, token string) error {
	status, _, err := c.call(ctx, http.MethodPost, fmt.Sprintf("/release/%d", itemID),
		reserveRequest{Quantity: quantity, Token: token})
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrItemNotFound
	default:
		return fmt.Errorf("catalog release returned unexpected status %d", status)
	}
}

// call runs the retry loop and returns the first definitive response.
func (c *Client) call(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				return 0, nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, ctx.Err())
			}
		}

		status, body, err := c.attempt(ctx, method, path, payload)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return 0, nil, fmt.Errorf("%w: circuit breaker open", ErrCatalogUnavailable)
			}
			lastErr = err
			continue
		}
		if status >= 500 {
			lastErr = fmt.Errorf("catalog returned status %d", status)
			continue
		}
		return status, body, nil
	}
	return 0, nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, lastErr)
}

// attempt issues exactly one request against the next replica. The request
// context is detached from the caller so an abandoned caller cannot kill an
// in-flight reservation; the per-call timeout still applies.
func (c *Client) attempt(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.nextURL()+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.httpClient.Do(req)
	})
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// nextURL rotates through the catalog replicas round-robin.
func (c *Client) nextURL() string {
	n := c.next.Add(1)
	return c.urls[int(n-1)%len(c.urls)]
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseBackoff << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(c.baseBackoff)))
	return d + jitter
}
