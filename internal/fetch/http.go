package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

const (
	defaultTimeout  = 30 * time.Second
	errorBodyLimit  = 4 * 1024
	defaultUAPrefix = "vapcache"
)

// HTTPOptions controls the default HTTP fetcher.
type HTTPOptions struct {
	Timeout   time.Duration
	UserAgent string
}

// HTTPFetcher issues a plain GET per fetch over a shared transport.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewClient returns an http.Client on a clone of the shared transport.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// NewHTTPFetcher builds the default Fetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUAPrefix
	}
	return &HTTPFetcher{
		client:    NewClient(opts.Timeout),
		userAgent: ua,
	}
}

// Fetch implements Fetcher. Transport-level errors are returned as err; HTTP
// error statuses come back as an unsuccessful Result.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	return &httpResult{url: url, resp: resp}, nil
}

type httpResult struct {
	url  string
	resp *http.Response
}

func (r *httpResult) Succeeded() bool {
	return r.resp.StatusCode >= 200 && r.resp.StatusCode < 300
}

func (r *httpResult) Body() (io.Reader, error) {
	if !r.Succeeded() {
		return nil, ErrUnsuccessful
	}
	return r.resp.Body, nil
}

func (r *httpResult) ContentType() string {
	return r.resp.Header.Get("Content-Type")
}

func (r *httpResult) ErrorMessage() string {
	if r.Succeeded() {
		return ""
	}
	msg := fmt.Sprintf("unable to fetch %s: status %d", r.url, r.resp.StatusCode)
	body, err := io.ReadAll(io.LimitReader(r.resp.Body, errorBodyLimit))
	if err == nil {
		if text := strings.TrimSpace(string(body)); text != "" {
			msg += "\n" + text
		}
	}
	return msg
}

func (r *httpResult) Close() error {
	return r.resp.Body.Close()
}
