// Package httpclient configures the HTTP client used to fetch boundary payloads.
package httpclient

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrCrossHostRedirect is returned (wrapped in *url.Error) when an upstream
// tries to redirect to another host or off HTTPS.
var ErrCrossHostRedirect = errors.New("redirect to a different host refused")

const maxRedirects = 5

// NewOutbound creates a new outbound http client
func NewOutbound(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: SameHostRedirects,
	}
}

// SameHostRedirects only follows redirects that stay on the original host
// over https.
func SameHostRedirects(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 5 redirects")
	}
	orig := via[0].URL
	if req.URL.Scheme != "https" || !strings.EqualFold(req.URL.Hostname(), orig.Hostname()) {
		return ErrCrossHostRedirect
	}
	return nil
}
