// Package bookstack is a client for the subset of the BookStack REST API
// used to mirror videos into a book.
package bookstack

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/starford/tubestack/internal/models"
)

// maxErrorBodySize caps how much of an error response is kept.
const maxErrorBodySize = 64 * 1024

// Options configures a Client.
type Options struct {
	BaseURL     string
	TokenID     string
	TokenSecret string

	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// RequestDelay is the minimum spacing between requests.
	RequestDelay time.Duration
	// MaxRetries is the number of retries on 5xx, 429 and network errors.
	MaxRetries int
	// RetryWait is the first retry interval; later ones grow exponentially.
	RetryWait time.Duration

	InsecureSkipVerify bool

	// OnBreakerChange is called when the circuit breaker changes state.
	OnBreakerChange func(from, to gobreaker.State)

	// HTTPClient overrides the default client (Timeout and
	// InsecureSkipVerify are then ignored).
	HTTPClient *http.Client
}

// Client talks to one BookStack instance.
type Client struct {
	baseURL    string
	authHeader string
	hc         *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryWait  time.Duration
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
}

// New creates a client from opts.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("bookstack: base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("bookstack: parse base url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	hc := opts.HTTPClient
	if hc == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed wiki installs
		}
		hc = &http.Client{Timeout: opts.Timeout, Transport: transport}
	}

	limit := rate.Inf
	if opts.RequestDelay > 0 {
		limit = rate.Every(opts.RequestDelay)
	}

	retryWait := opts.RetryWait
	if retryWait <= 0 {
		retryWait = time.Second
	}

	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		authHeader: fmt.Sprintf("Token %s:%s", opts.TokenID, opts.TokenSecret),
		hc:         hc,
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: max(opts.MaxRetries, 0),
		retryWait:  retryWait,
		logger:     logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "bookstack",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("bookstack: circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if opts.OnBreakerChange != nil {
				opts.OnBreakerChange(from, to)
			}
		},
	})

	return c, nil
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// CreateChapterRequest is the body of POST /api/chapters.
type CreateChapterRequest struct {
	BookID      int    `json:"book_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreatePageRequest is the body of POST /api/pages. A zero ChapterID
// places the page at the book root.
type CreatePageRequest struct {
	BookID    int          `json:"book_id"`
	ChapterID int          `json:"chapter_id,omitempty"`
	Name      string       `json:"name"`
	HTML      string       `json:"html"`
	Tags      []models.Tag `json:"tags"`
}

// GetBook returns the book with its contents tree.
func (c *Client) GetBook(ctx context.Context, bookID int) (*Book, error) {
	var b Book
	if err := c.do(ctx, http.MethodGet, "/api/books/"+strconv.Itoa(bookID), nil, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetPage returns a page including its HTML body.
func (c *Client) GetPage(ctx context.Context, pageID int) (*models.Page, error) {
	var p models.Page
	if err := c.do(ctx, http.MethodGet, "/api/pages/"+strconv.Itoa(pageID), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateChapter creates a chapter.
func (c *Client) CreateChapter(ctx context.Context, req CreateChapterRequest) (*models.Chapter, error) {
	var ch models.Chapter
	if err := c.do(ctx, http.MethodPost, "/api/chapters", nil, req, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// DeleteChapter deletes a chapter.
func (c *Client) DeleteChapter(ctx context.Context, chapterID int) error {
	return c.do(ctx, http.MethodDelete, "/api/chapters/"+strconv.Itoa(chapterID), nil, nil, nil)
}

// CreatePage creates a page.
func (c *Client) CreatePage(ctx context.Context, req CreatePageRequest) (*models.Page, error) {
	if req.Tags == nil {
		req.Tags = []models.Tag{}
	}
	var p models.Page
	if err := c.do(ctx, http.MethodPost, "/api/pages", nil, req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePage deletes a page. With hard set the page skips the recycle bin.
func (c *Client) DeletePage(ctx context.Context, pageID int, hard bool) error {
	var q url.Values
	if hard {
		q = url.Values{"hard_delete": {"true"}}
	}
	return c.do(ctx, http.MethodDelete, "/api/pages/"+strconv.Itoa(pageID), q, nil, nil)
}

// do sends one API call through the limiter, the breaker and the retry loop,
// and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bookstack: encode %s %s: %w", method, path, err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	respBody, err := c.breaker.Execute(func() ([]byte, error) {
		return c.sendWithRetry(ctx, method, path, query, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("bookstack: %s %s: %w", method, path, err)
		}
		return err
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("bookstack: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) sendWithRetry(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	retries := c.maxRetries
	if !idempotent(method) {
		// A create that failed after the server stored it must not be repeated.
		retries = 0
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryWait
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	var respBody []byte
	attempt := 0
	op := func() error {
		attempt++
		b, err := c.send(ctx, method, path, query, payload)
		if err == nil {
			respBody = b
			return nil
		}
		if isClientError(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.logger.Debug("bookstack: retrying request",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return respBody, nil
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("bookstack: build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bookstack: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       readBodyForError(resp.Body),
		}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bookstack: read %s %s: %w", method, path, err)
	}
	return b, nil
}

// readBodyForError reads at most maxErrorBodySize bytes of an error body.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return bytes.TrimSpace(body)
}
