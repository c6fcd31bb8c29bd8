package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.x.com/2"
	DefaultTimeout = 10 * time.Second

	// MaxResultsCeiling and MaxResultsFloor bound max_results on the timeline endpoint.
	MaxResultsCeiling = 100
	MaxResultsFloor   = 5

	maxErrorBody = 4096
)

var (
	ErrLookupFailed    = errors.New("account lookup failed")
	ErrFetchFailed     = errors.New("post fetch failed")
	ErrAccountNotFound = fmt.Errorf("%w: account not found", ErrLookupFailed)
)

// APIError is a non-2xx upstream response. Kind is ErrLookupFailed or
// ErrFetchFailed depending on the call that produced it.
type APIError struct {
	Kind       error
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%v: status %d: %s", e.Kind, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// RawRecord is one undecoded post object from the timeline response.
type RawRecord = json.RawMessage

type Config struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
	// RateLimitRPM paces outbound requests; 0 disables pacing.
	RateLimitRPM int
}

// Health mirrors the last outcome seen by the client.
type Health struct {
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.SugaredLogger

	mu     sync.RWMutex
	health Health
}

func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.BearerToken,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
		health: Health{Healthy: true},
	}
	if cfg.RateLimitRPM > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPM)/60.0), 1)
	}
	return c
}

func (c *Client) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

func (c *Client) updateHealth(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.health.Healthy = err == nil
	if err == nil {
		c.health.LastSuccess = time.Now()
		c.health.LastError = ""
	} else {
		c.health.LastError = err.Error()
	}
}

type userLookupResponse struct {
	Data *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

// ResolveAccount maps a handle to its immutable upstream account id.
func (c *Client) ResolveAccount(ctx context.Context, username string) (string, error) {
	endpoint := fmt.Sprintf("%s/users/by/username/%s", c.baseURL, url.PathEscape(username))

	body, err := c.get(ctx, endpoint, ErrLookupFailed)
	if err != nil {
		return "", err
	}

	var parsed userLookupResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		err = fmt.Errorf("%w: failed to decode response: %v", ErrLookupFailed, err)
		c.updateHealth(err)
		return "", err
	}
	if parsed.Data == nil || parsed.Data.ID == "" {
		return "", fmt.Errorf("%w: %s", ErrAccountNotFound, username)
	}

	c.logger.Debugw("Resolved account", "username", username, "account_id", parsed.Data.ID)
	return parsed.Data.ID, nil
}

type timelineResponse struct {
	Data []json.RawMessage `json:"data"`
}

// FetchRecentPosts returns up to maxCount of the account's most recent posts,
// excluding reposts. maxCount is clamped to what the endpoint accepts.
func (c *Client) FetchRecentPosts(ctx context.Context, accountID string, maxCount int) ([]RawRecord, error) {
	params := url.Values{}
	params.Set("max_results", strconv.Itoa(ClampMaxResults(maxCount)))
	params.Set("tweet.fields", "created_at,public_metrics")
	params.Set("exclude", "retweets")

	endpoint := fmt.Sprintf("%s/users/%s/tweets?%s", c.baseURL, url.PathEscape(accountID), params.Encode())

	body, err := c.get(ctx, endpoint, ErrFetchFailed)
	if err != nil {
		return nil, err
	}

	var parsed timelineResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		err = fmt.Errorf("%w: failed to decode response: %v", ErrFetchFailed, err)
		c.updateHealth(err)
		return nil, err
	}

	records := make([]RawRecord, 0, len(parsed.Data))
	for _, r := range parsed.Data {
		records = append(records, RawRecord(r))
	}

	c.logger.Debugw("Fetched posts", "account_id", accountID, "count", len(records))
	return records, nil
}

func ClampMaxResults(n int) int {
	if n < MaxResultsFloor {
		return MaxResultsFloor
	}
	if n > MaxResultsCeiling {
		return MaxResultsCeiling
	}
	return n
}

func (c *Client) get(ctx context.Context, endpoint string, kind error) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", kind, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", kind, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %v", kind, err)
		c.updateHealth(err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
		c.updateHealth(apiErr)
		return nil, apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("%w: failed to read response: %v", kind, err)
		c.updateHealth(err)
		return nil, err
	}

	c.updateHealth(nil)
	return body, nil
}
