package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/Jyothsnapennepalli/permission-debt-app/internal/obs"
)

// Storage provider failure taxonomy. ErrCredential means the bearer token
// was rejected and the principal must sign in again; ErrProvider covers any
// other non-success response.
var (
	ErrCredential = errors.New("drive: credential invalid or expired")
	ErrProvider   = errors.New("drive: provider request failed")
)

const (
	defaultBaseURL  = "https://www.googleapis.com/drive/v3"
	defaultPageSize = 10
	defaultRetries  = 3
	defaultBackoff  = 500 * time.Millisecond
)

// FileRef identifies one file in the principal's drive. Ephemeral: produced
// by ListFiles and consumed immediately by ListPermissions.
type FileRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Permission is one raw sharing grant as returned by the provider.
// EmailAddress is absent for domain-wide and anyone-type shares.
type Permission struct {
	EmailAddress string `json:"emailAddress,omitempty"`
	Role         string `json:"role"`
	Type         string `json:"type"`
}

// Client talks to the storage provider's REST API with request pacing and
// bounded retry on throttling and server errors.
type Client struct {
	httpClient *http.Client
	baseURL    string
	pageSize   int
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL points the client at a different provider endpoint (tests,
// proxies).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = base
		}
	}
}

// WithPageSize overrides the enumeration page size.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRateLimit caps outbound requests at perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithMaxRetries bounds retry attempts for throttled and 5xx responses.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the base backoff delay between retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// NewClient constructs a Client with sensible defaults: Drive v3 endpoint,
// page size 10, 10 rps with burst 5, 3 retries.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		pageSize:   defaultPageSize,
		limiter:    rate.NewLimiter(rate.Limit(10), 5),
		maxRetries: defaultRetries,
		backoff:    defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listFilesResponse struct {
	Files         []FileRef `json:"files"`
	NextPageToken string    `json:"nextPageToken"`
}

type listPermissionsResponse struct {
	Permissions []Permission `json:"permissions"`
}

// ListFiles enumerates the principal's files in provider order. Pagination
// is explicit: the loop follows nextPageToken until the provider stops
// returning one, so the result is complete rather than capped at one page.
func (c *Client) ListFiles(ctx context.Context, token string) ([]FileRef, error) {
	files := make([]FileRef, 0, c.pageSize)
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(c.pageSize))
		q.Set("fields", "nextPageToken,files(id,name)")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page listFilesResponse
		if err := c.get(ctx, token, "/files?"+q.Encode(), "list files", &page); err != nil {
			return nil, err
		}
		files = append(files, page.Files...)
		if page.NextPageToken == "" {
			return files, nil
		}
		pageToken = page.NextPageToken
	}
}

// ListPermissions fetches the sharing grants for one file in provider
// order. A file with no explicit shares yields an empty slice, never nil.
func (c *Client) ListPermissions(ctx context.Context, token, fileID string) ([]Permission, error) {
	if fileID == "" {
		return nil, fmt.Errorf("%w: list permissions: empty file id", ErrProvider)
	}
	q := url.Values{}
	q.Set("fields", "permissions(emailAddress,role,type)")
	path := "/files/" + url.PathEscape(fileID) + "/permissions?" + q.Encode()

	var resp listPermissionsResponse
	if err := c.get(ctx, token, path, "list permissions", &resp); err != nil {
		return nil, err
	}
	if resp.Permissions == nil {
		return []Permission{}, nil
	}
	return resp.Permissions, nil
}

// get performs one bearer-authenticated GET with pacing and retries, and
// decodes the JSON body into dst.
func (c *Client) get(ctx context.Context, token, path, op string, dst any) error {
	attempts := c.maxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, c.backoff<<(attempt-1)); err != nil {
				return err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrProvider, op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			obs.CountDriveRequest(op, "transport_error")
			lastErr = fmt.Errorf("%w: %s: %v", ErrProvider, op, err)
			continue
		}
		obs.CountDriveRequest(op, strconv.Itoa(resp.StatusCode))

		switch {
		case resp.StatusCode == http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(dst)
			closeBody(resp)
			if err != nil {
				return fmt.Errorf("%w: %s: decode response: %v", ErrProvider, op, err)
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			closeBody(resp)
			return fmt.Errorf("%w: %s: status %d", ErrCredential, op, resp.StatusCode)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			closeBody(resp)
			lastErr = fmt.Errorf("%w: %s: status %d", ErrProvider, op, resp.StatusCode)
			continue
		default:
			closeBody(resp)
			return fmt.Errorf("%w: %s: status %d", ErrProvider, op, resp.StatusCode)
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
