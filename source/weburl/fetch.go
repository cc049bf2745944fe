package weburl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/c360studio/semcontext/source"
)

const (
	// DefaultTimeout bounds one fetch including redirects.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxContentSize is the largest accepted response body.
	DefaultMaxContentSize = 10 << 20
	// DefaultUserAgent identifies the fetcher.
	DefaultUserAgent = "semcontext/0.1"
	// maxRedirects is the number of redirects followed.
	maxRedirects = 5
)

// ErrContentTooLarge is returned when a body exceeds the size limit.
var ErrContentTooLarge = errors.New("content too large")

// FetcherConfig configures a Fetcher. Zero values use the defaults.
type FetcherConfig struct {
	Timeout        time.Duration
	UserAgent      string
	MaxContentSize int64

	// Transport replaces the address-checking transport. Tests use it to
	// reach local servers.
	Transport http.RoundTripper
}

// Fetcher retrieves web pages with address checks on every connection.
type Fetcher struct {
	client         *http.Client
	userAgent      string
	maxContentSize int64
	validate       func(string) error
}

// NewFetcher creates a fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxContentSize <= 0 {
		cfg.MaxContentSize = DefaultMaxContentSize
	}

	validate := ValidateURL
	transport := cfg.Transport
	if transport == nil {
		transport = safeTransport(cfg.Timeout)
	} else {
		validate = func(string) error { return nil }
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (max %d)", maxRedirects)
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		userAgent:      cfg.UserAgent,
		maxContentSize: cfg.MaxContentSize,
		validate:       validate,
	}
}

// safeTransport dials only public addresses, checking every resolved IP so
// DNS rebinding cannot reach a private host.
func safeTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("DNS lookup failed: %w", err)
		}
		for _, ip := range ips {
			if IsPrivateIP(ip.IP) {
				return nil, fmt.Errorf("connection to private IP %s is not allowed", ip.IP)
			}
		}
		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("failed to connect to any resolved IP: %w", lastErr)
	}
	return &http.Transport{
		DialContext:           dial,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}

// FetchPage retrieves rawURL and returns it as a pending page. The page id
// comes from PageID; the content type is the response's.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) (*source.Page, error) {
	if err := f.validate(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/markdown;q=0.9,text/plain;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxContentSize {
		return nil, fmt.Errorf("%w (exceeds %d bytes)", ErrContentTooLarge, f.maxContentSize)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	return &source.Page{
		ID:          PageID(rawURL),
		URL:         rawURL,
		ContentType: contentType,
		Content:     string(body),
		Status:      source.StatusPending,
	}, nil
}
