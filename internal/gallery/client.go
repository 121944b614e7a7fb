package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Sentinel errors callers branch on. Everything transient retries
// internally first; these surface only after retries run out or when the
// failure is permanent.
var (
	// ErrUnauthorized means the api token was rejected upstream.
	ErrUnauthorized = errors.New("gallery: unauthorized")
	// ErrNotFound means the requested entity does not exist upstream.
	ErrNotFound = errors.New("gallery: not found")
	// ErrRemote covers upstream failures that persisted through retries.
	ErrRemote = errors.New("gallery: remote error")
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxTries   = 4
	defaultRetryDelay = 500 * time.Millisecond

	casesPerPage = 100
)

// Config carries the per-tenant connection settings for one gallery
// account.
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.com/api/v2.
	BaseURL string
	// APIToken identifies and authenticates the tenant.
	APIToken string
	// PropertyID selects which website property's content to fetch.
	PropertyID int64
	// Timeout bounds a single HTTP attempt. Zero means 30s.
	Timeout time.Duration
	// MaxTries bounds attempts per request including the first. Zero means 4.
	MaxTries uint
	// RetryDelay is the initial backoff interval. Zero means 500ms.
	RetryDelay time.Duration
}

// Client is a tenant-scoped gallery API client. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	base       string
	apiToken   string
	propertyID int64
	maxTries   uint
	retryDelay time.Duration
	logger     *log.Logger
}

// NewClient validates cfg and builds a client. A nil logger falls back to
// the process default.
func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gallery base url is required")
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("gallery api token is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid gallery base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = defaultMaxTries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		base:       strings.TrimSuffix(cfg.BaseURL, "/"),
		apiToken:   cfg.APIToken,
		propertyID: cfg.PropertyID,
		maxTries:   cfg.MaxTries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}, nil
}

// Token returns the tenant api token the client is bound to.
func (c *Client) Token() string {
	return c.apiToken
}

// PropertyID returns the website property the client is bound to.
func (c *Client) PropertyID() int64 {
	return c.propertyID
}

type proceduresResponse struct {
	Procedures []Procedure `json:"procedures"`
}

type casesResponse struct {
	Cases      []Case `json:"cases"`
	Page       int    `json:"page"`
	TotalPages int    `json:"total_pages"`
}

type caseResponse struct {
	Case Case `json:"case"`
}

type doctorsResponse struct {
	Doctors []Doctor `json:"doctors"`
}

// Ping checks that the API is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.fetch(ctx, "status", nil); err != nil {
		return fmt.Errorf("gallery ping failed: %w", err)
	}
	return nil
}

// ListProcedures fetches the full procedure tree for the property.
func (c *Client) ListProcedures(ctx context.Context) ([]Procedure, error) {
	var resp proceduresResponse
	if err := c.getJSON(ctx, "procedures", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list procedures: %w", err)
	}
	return resp.Procedures, nil
}

// ListCases fetches every case for the property, walking all pages.
func (c *Client) ListCases(ctx context.Context) ([]Case, error) {
	var all []Case
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(casesPerPage))

		var resp casesResponse
		if err := c.getJSON(ctx, "cases", q, &resp); err != nil {
			return nil, fmt.Errorf("failed to list cases page %d: %w", page, err)
		}
		all = append(all, resp.Cases...)

		if page >= resp.TotalPages {
			break
		}
	}
	return all, nil
}

// GetCase fetches a single case by its upstream id.
func (c *Client) GetCase(ctx context.Context, id int64) (*Case, error) {
	var resp caseResponse
	if err := c.getJSON(ctx, fmt.Sprintf("cases/%d", id), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get case %d: %w", id, err)
	}
	return &resp.Case, nil
}

// ListDoctors fetches the provider profiles for the property.
func (c *Client) ListDoctors(ctx context.Context) ([]Doctor, error) {
	var resp doctorsResponse
	if err := c.getJSON(ctx, "doctors", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	return resp.Doctors, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	body, err := c.fetch(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// fetch runs one GET with tenant scoping and exponential backoff on
// transient failures. Auth and not-found failures never retry.
func (c *Client) fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u, err := url.Parse(c.base + "/" + path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_token", c.apiToken)
	query.Set("property_id", strconv.FormatInt(c.propertyID, 10))
	u.RawQuery = query.Encode()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryDelay

	return backoff.Retry(ctx,
		func() ([]byte, error) { return c.doOnce(ctx, u.String()) },
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Printf("gallery: retrying in %s: %v", wait.Round(time.Millisecond), err)
		}),
	)
}

func (c *Client) doOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gallery request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		return body, nil

	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return nil, backoff.Permanent(fmt.Errorf("%s: %w", remoteMessage(resp), ErrUnauthorized))

	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(fmt.Errorf("%s: %w", remoteMessage(resp), ErrNotFound))

	case resp.StatusCode == http.StatusTooManyRequests:
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, convErr := strconv.Atoi(s); convErr == nil && secs > 0 {
				return nil, backoff.RetryAfter(secs)
			}
		}
		return nil, fmt.Errorf("rate limited: %w", ErrRemote)

	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%s: %w", remoteMessage(resp), ErrRemote)

	default:
		return nil, backoff.Permanent(fmt.Errorf("unexpected %s: %w", remoteMessage(resp), ErrRemote))
	}
}

// remoteMessage pulls the error body the API attaches to failures, falling
// back to the bare status.
func remoteMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(body) > 0 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Sprintf("status %d: %s", resp.StatusCode, e.Error)
		}
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
