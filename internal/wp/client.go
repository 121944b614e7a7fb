// Package wp writes gallery content into the local WordPress site through
// its REST API.
//
// Requests are never retried here. A create is not idempotent, and the
// sync engine already records per-item failures and reconciles on the next
// pass, so a duplicate post would be worse than a missed one.
package wp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnauthorized means the application password was rejected.
	ErrUnauthorized = errors.New("wordpress: unauthorized")
	// ErrNotFound means the target object does not exist.
	ErrNotFound = errors.New("wordpress: not found")
	// ErrRemote covers other failures reported by the site.
	ErrRemote = errors.New("wordpress: request failed")
)

const (
	defaultTimeout = 30 * time.Second
	restBase       = "/wp-json/wp/v2/"
)

// Post is the payload for a gallery post type (cases and doctors).
type Post struct {
	ID      int64                  `json:"id,omitempty"`
	Type    string                 `json:"-"`
	Title   string                 `json:"title"`
	Content string                 `json:"content"`
	Status  string                 `json:"status,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
	TermIDs []int64                `json:"gallery_procedure,omitempty"`
}

// Term is the payload for a procedure taxonomy term.
type Term struct {
	ID          int64  `json:"id,omitempty"`
	Taxonomy    string `json:"-"`
	Name        string `json:"name"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"description,omitempty"`
	ParentID    int64  `json:"parent,omitempty"`
}

// Config carries the connection settings for the target site.
type Config struct {
	// BaseURL is the site root, e.g. https://clinic.example.com.
	BaseURL string
	// Username owns the application password.
	Username string
	// AppPassword is a WordPress application password.
	AppPassword string
	// Timeout bounds one request. Zero means 30s.
	Timeout time.Duration
}

// Client talks to one WordPress site. Safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	base        string
	username    string
	appPassword string
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("wordpress base url is required")
	}
	if cfg.Username == "" || cfg.AppPassword == "" {
		return nil, fmt.Errorf("wordpress credentials are required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid wordpress base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		base:        strings.TrimSuffix(cfg.BaseURL, "/") + restBase,
		username:    cfg.Username,
		appPassword: cfg.AppPassword,
	}, nil
}

// objectID is the slice of a REST response we care about.
type objectID struct {
	ID int64 `json:"id"`
}

// UpsertPost creates or updates a post and returns its id.
//
// When p.ID points at a post that no longer exists (trashed by an editor),
// the update falls back to a fresh create so the content comes back.
func (c *Client) UpsertPost(ctx context.Context, p *Post) (int64, error) {
	if p.Type == "" {
		return 0, fmt.Errorf("post type is required")
	}

	if p.ID > 0 {
		id, err := c.writeJSON(ctx, p.Type+"/"+strconv.FormatInt(p.ID, 10), p)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("failed to update %s %d: %w", p.Type, p.ID, err)
		}
	}

	id, err := c.writeJSON(ctx, p.Type, p)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", p.Type, err)
	}
	return id, nil
}

// DeletePost removes a post permanently. Deleting a post that is already
// gone succeeds; the desired state is reached either way.
func (c *Client) DeletePost(ctx context.Context, postType string, id int64) error {
	if postType == "" || id <= 0 {
		return fmt.Errorf("post type and positive id are required")
	}
	err := c.delete(ctx, postType+"/"+strconv.FormatInt(id, 10))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete %s %d: %w", postType, id, err)
	}
	return nil
}

// UpsertTerm creates or updates a taxonomy term and returns its id, with
// the same gone-upstream fallback as UpsertPost.
func (c *Client) UpsertTerm(ctx context.Context, term *Term) (int64, error) {
	if term.Taxonomy == "" {
		return 0, fmt.Errorf("taxonomy is required")
	}

	if term.ID > 0 {
		id, err := c.writeJSON(ctx, term.Taxonomy+"/"+strconv.FormatInt(term.ID, 10), term)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("failed to update %s term %d: %w", term.Taxonomy, term.ID, err)
		}
	}

	id, err := c.writeJSON(ctx, term.Taxonomy, term)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s term: %w", term.Taxonomy, err)
	}
	return id, nil
}

// DeleteTerm removes a term. Like DeletePost, already-gone is success.
func (c *Client) DeleteTerm(ctx context.Context, taxonomy string, id int64) error {
	if taxonomy == "" || id <= 0 {
		return fmt.Errorf("taxonomy and positive id are required")
	}
	err := c.delete(ctx, taxonomy+"/"+strconv.FormatInt(id, 10))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete %s term %d: %w", taxonomy, id, err)
	}
	return nil
}

// Ping verifies the site is reachable and the credentials work by listing
// users/me.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"users/me", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.appPassword)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wordpress ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

func (c *Client) writeJSON(ctx context.Context, path string, payload interface{}) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.appPassword)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("wordpress request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return 0, statusError(resp)
	}

	var obj objectID
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if obj.ID <= 0 {
		return 0, fmt.Errorf("response carried no object id: %w", ErrRemote)
	}
	return obj.ID, nil
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+path+"?force=true", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.appPassword)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wordpress request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// statusError maps a REST failure response onto the package sentinels,
// keeping the site's message when it sends one.
func statusError(resp *http.Response) error {
	msg := fmt.Sprintf("status %d", resp.StatusCode)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(body) > 0 {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			msg = fmt.Sprintf("status %d: %s", resp.StatusCode, e.Message)
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", msg, ErrUnauthorized)
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", msg, ErrRemote)
	}
}
