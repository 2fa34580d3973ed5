// Package gateway wraps the local content gateway's HTTP API: directory
// listing, byte-range reads, and the unbounded event log tail the crawler
// uses as its discovery signal.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// The gateway reports a directory read on cat with this exact message.
const dirSentinel = "this dag node is a directory"

// ErrIsDirectory signals that a cat hit a directory node. It is an expected
// outcome, not a failure; callers list the directory instead.
var ErrIsDirectory = errors.New(dirSentinel)

// Error is a structured error envelope returned by the gateway.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: %s (status %d)", e.Message, e.Status)
}

// IsTimeout reports whether err is a request deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsTransport reports whether err is a network-layer failure (connection
// refused, reset, DNS, ...) rather than a gateway-reported error or timeout.
func IsTransport(err error) bool {
	if IsTimeout(err) {
		return false
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// DirLink is one child of a directory object as reported by ls.
type DirLink struct {
	CID  string `json:"Hash"`
	Name string `json:"Name"`
	Size uint64 `json:"Size"`
	Type int    `json:"Type"`
}

// Config controls a Client. Zero values fall back to the defaults below.
type Config struct {
	Host           string        // default 127.0.0.1
	Port           int           // default 5001
	RequestTimeout time.Duration // per-request deadline for ls/cat, default 60s
	ReconnectEvery time.Duration // log tail reconnect pacing, default 2s
	Logger         *slog.Logger
}

// Client issues requests against the gateway API. Safe for concurrent use;
// the underlying HTTP client is shared across all calls.
type Client struct {
	base      string
	http      *http.Client
	timeout   time.Duration
	reconnect *rate.Limiter
	log       *slog.Logger
}

// New creates a Client for the gateway at cfg.Host:cfg.Port.
func New(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 5001
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.ReconnectEvery == 0 {
		cfg.ReconnectEvery = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		base: fmt.Sprintf("http://%s:%d/api/v0/", cfg.Host, cfg.Port),
		http: &http.Client{
			// No Client.Timeout: deadlines come from per-request contexts so
			// the log tail request can run forever.
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout:   cfg.RequestTimeout,
		reconnect: rate.NewLimiter(rate.Every(cfg.ReconnectEvery), 1),
		log:       cfg.Logger,
	}
}

// Close releases idle connections. In-flight requests are cancelled through
// their contexts, not here.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// do issues a GET and decodes the gateway's error envelope on non-200.
// The caller owns resp.Body on success.
func (c *Client) do(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var envelope struct {
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Message == "" {
		envelope.Message = strings.TrimSpace(string(body))
	}
	if envelope.Message == dirSentinel {
		return nil, ErrIsDirectory
	}
	return nil, &Error{Status: resp.StatusCode, Message: envelope.Message}
}

// Ls lists the links of a directory object.
func (c *Client) Ls(ctx context.Context, cid string) ([]DirLink, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, "ls", url.Values{"arg": {cid}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Objects []struct {
			Links []DirLink `json:"Links"`
		} `json:"Objects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gateway: decode ls %s: %w", cid, err)
	}
	if len(out.Objects) == 0 {
		return nil, nil
	}
	return out.Objects[0].Links, nil
}

// Cat reads object bytes. offset=0 and length=-1 read the whole object;
// a positive length bounds the read (the crawler fetches a 128-byte head
// for classification).
func (c *Client) Cat(ctx context.Context, cid string, offset, length int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{"arg": {cid}}
	if offset != 0 {
		params.Set("offset", strconv.FormatInt(offset, 10))
	}
	if length != -1 {
		params.Set("length", strconv.FormatInt(length, 10))
	}
	resp, err := c.do(ctx, "cat", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway: read cat %s: %w", cid, err)
	}
	return data, nil
}
