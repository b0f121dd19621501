// Package transport builds the HTTP clients and request plumbing shared by the
// probe, the concurrent range downloader and the single-stream fallback.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vfaronov/httpheader"
	"golang.org/x/net/proxy"

	"github.com/vidfetch/vidfetch/internal/engine/types"
	"github.com/vidfetch/vidfetch/internal/utils"
)

// NewClient returns a client tuned for conns parallel connections to one host.
// Headers of the original request survive redirects, except Range.
func NewClient(runtime *types.RuntimeConfig, conns int) *http.Client {
	maxConns := max(conns, 1)

	transport := &http.Transport{
		// Connection pooling
		MaxIdleConns:        types.DefaultMaxIdleConns,
		MaxIdleConnsPerHost: maxConns + 2,
		MaxConnsPerHost:     maxConns,

		// Timeouts to prevent hung connections
		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: types.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: types.DefaultExpectContinueTimeout,

		// Media is already compressed; HTTP/1.1 keeps one TCP connection per range.
		DisableCompression: true,
		ForceAttemptHTTP2:  false,
		TLSNextProto:       make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),

		DialContext: (&net.Dialer{
			Timeout:   types.DialTimeout,
			KeepAlive: types.KeepAliveDuration,
		}).DialContext,
		Proxy: http.ProxyFromEnvironment,
	}
	configureProxy(transport, runtime.GetProxyURL())

	return &http.Client{
		Transport:     transport,
		CheckRedirect: keepHeadersOnRedirect,
	}
}

func configureProxy(transport *http.Transport, proxyURL string) {
	if proxyURL == "" {
		return
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		utils.Debug("Invalid proxy URL %s: %v", proxyURL, err)
		return
	}
	if !strings.HasPrefix(parsed.Scheme, "socks5") {
		transport.Proxy = http.ProxyURL(parsed)
		return
	}

	var auth *proxy.Auth
	if parsed.User != nil {
		pass, _ := parsed.User.Password()
		auth = &proxy.Auth{User: parsed.User.Username(), Password: pass}
	}
	dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
	if err != nil {
		utils.Debug("Failed to create SOCKS5 dialer: %v", err)
		return
	}
	utils.Debug("Using SOCKS5 proxy: %s", parsed.Host)
	transport.Proxy = nil
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
		return
	}
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}
}

func keepHeadersOnRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	for key, vals := range via[0].Header {
		if key == "Range" {
			continue
		}
		req.Header[key] = vals
	}
	// Range must follow the redirect for partial requests.
	if r := via[len(via)-1].Header.Get("Range"); r != "" {
		req.Header.Set("Range", r)
	}
	return nil
}

// NewRequest builds a GET carrying the variant's headers and the configured user agent.
func NewRequest(ctx context.Context, rawurl string, headers map[string]string, runtime *types.RuntimeConfig) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, err
	}
	for key, val := range headers {
		if strings.EqualFold(key, "Range") {
			continue
		}
		req.Header.Set(key, val)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", runtime.GetUserAgent())
	}
	return req, nil
}

// RetryAfter returns how long a 429/503 response asks the client to wait, or 0.
func RetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	at := httpheader.RetryAfter(resp.Header)
	if at.IsZero() {
		return 0
	}
	if d := time.Until(at); d > 0 {
		return d
	}
	return 0
}

// Sleep waits for d or until ctx ends, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
