package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	fileutil "gcodesync/internal/file"
	"gcodesync/internal/order"
)

// OrderFetcher retrieves the current order list.
type OrderFetcher interface {
	FetchOrders(ctx context.Context) (Listing, error)
}

// Downloader stores one order's file at dest.
type Downloader interface {
	Download(ctx context.Context, orderID order.ID, dest string) error
}

// Ensure Client implements both roles at compile time.
var (
	_ OrderFetcher = (*Client)(nil)
	_ Downloader   = (*Client)(nil)
)

// IDPlaceholder marks where the order id goes in a download path.
const IDPlaceholder = "{id}"

// Endpoint paths of the order service.
const (
	DefaultListPath     = "/api/ordenes"
	DefaultDownloadPath = "/api/orden/archivo/" + IDPlaceholder
)

const (
	defaultListTimeout     = 5 * time.Second
	defaultDownloadTimeout = 60 * time.Second
	defaultUserAgent       = "gcodesync/1.0"
	maxListBytes           = 32 << 20
)

// Options configure a Client. Zero values fall back to defaults.
type Options struct {
	ServerURL       string
	ListPath        string
	DownloadPath    string
	ListTimeout     time.Duration
	DownloadTimeout time.Duration
	UserAgent       string
}

// Listing is a decoded order list together with the exact bytes received.
type Listing struct {
	Orders []order.Order
	Raw    []byte
}

// Client talks to the order service over plain JSON-over-HTTP.
type Client struct {
	baseURL      *url.URL
	listPath     string
	downloadPath string
	listHTTP     *http.Client
	downloadHTTP *http.Client
	userAgent    string
}

// NewClient validates opts and builds a Client.
func NewClient(opts Options) (*Client, error) {
	base, err := parseBaseURL(opts.ServerURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:      base,
		listPath:     firstNonEmpty(opts.ListPath, DefaultListPath),
		downloadPath: firstNonEmpty(opts.DownloadPath, DefaultDownloadPath),
		userAgent:    firstNonEmpty(opts.UserAgent, defaultUserAgent),
	}
	if !strings.Contains(c.downloadPath, IDPlaceholder) {
		return nil, fmt.Errorf("download path %q lacks %s", c.downloadPath, IDPlaceholder)
	}
	listTimeout := opts.ListTimeout
	if listTimeout <= 0 {
		listTimeout = defaultListTimeout
	}
	downloadTimeout := opts.DownloadTimeout
	if downloadTimeout <= 0 {
		downloadTimeout = defaultDownloadTimeout
	}
	c.listHTTP = &http.Client{Timeout: listTimeout}
	c.downloadHTTP = &http.Client{Timeout: downloadTimeout}
	return c, nil
}

// ListURL returns the absolute list endpoint.
func (c *Client) ListURL() string {
	return c.resolve(c.listPath)
}

// DownloadURL returns the absolute download endpoint for id.
func (c *Client) DownloadURL(id order.ID) string {
	return c.resolve(strings.ReplaceAll(c.downloadPath, IDPlaceholder, url.PathEscape(id.String())))
}

// FetchOrders issues one GET against the list endpoint. Only a 200 response
// whose body is a JSON array of order objects succeeds.
func (c *Client) FetchOrders(ctx context.Context) (Listing, error) {
	resp, err := c.get(ctx, c.listHTTP, c.ListURL(), "application/json")
	if err != nil {
		return Listing{}, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Listing{}, fmt.Errorf("%w: %w", ErrServer, &StatusError{Path: c.listPath, Code: resp.StatusCode})
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		// the body stalled or dropped mid-transfer
		return Listing{}, fmt.Errorf("%w: read body: %w", ErrConnection, err)
	}
	orders, err := order.Decode(raw)
	if err != nil {
		return Listing{}, fmt.Errorf("%w: decode response: %w", ErrParse, err)
	}
	return Listing{Orders: orders, Raw: raw}, nil
}

// Download streams the order file into dest. dest only appears once the
// whole body has been written.
func (c *Client) Download(ctx context.Context, orderID order.ID, dest string) error {
	resp, err := c.get(ctx, c.downloadHTTP, c.DownloadURL(orderID), "")
	if err != nil {
		return fmt.Errorf("%w: %w: %w", ErrDownload, ErrConnection, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		path := strings.ReplaceAll(c.downloadPath, IDPlaceholder, orderID.String())
		return fmt.Errorf("%w: %w", ErrDownload, &StatusError{Path: path, Code: resp.StatusCode})
	}
	if err := fileutil.CopyAtomic(dest, resp.Body); err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, client *http.Client, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

func (c *Client) resolve(path string) string {
	rel, err := url.Parse(path)
	if err != nil {
		return strings.TrimSuffix(c.baseURL.String(), "/") + path
	}
	return c.baseURL.ResolveReference(rel).String()
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty server url")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse server url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server url %q: missing host", raw)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func firstNonEmpty(v, fallback string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return fallback
}
