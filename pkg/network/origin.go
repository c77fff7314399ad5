// Package network performs requests against the upstream origin.
package network

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher performs a request on the network.
type Fetcher interface {
	Fetch(r *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(r *http.Request) (*http.Response, error)

// Fetch calls f(r).
func (f FetcherFunc) Fetch(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Origin sends requests to a fixed upstream base URL.
type Origin struct {
	base   *url.URL
	client *http.Client
}

// NewOrigin returns an Origin for baseURL. A nil client uses a default
// client that does not follow redirects.
func NewOrigin(baseURL string, client *http.Client) (*Origin, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid origin URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid origin URL %q", baseURL)
	}
	if client == nil {
		client = &http.Client{
			Timeout: 60 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Origin{base: u, client: client}, nil
}

// URL returns the origin base URL.
func (o *Origin) URL() *url.URL {
	u := *o.base
	return &u
}

// Fetch forwards r to the origin. The caller owns the response body.
func (o *Origin) Fetch(r *http.Request) (*http.Response, error) {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	out.URL.Scheme = o.base.Scheme
	out.URL.Host = o.base.Host
	if o.base.Path != "" && o.base.Path != "/" {
		out.URL.Path = strings.TrimSuffix(o.base.Path, "/") + r.URL.Path
	}
	out.Host = o.base.Host
	out.Header = StripHopByHop(r.Header)

	resp, err := o.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", r.URL.Path, err)
	}
	return resp, nil
}

// Get fetches an origin-relative path with GET.
func (o *Origin) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := NewGet(ctx, path)
	if err != nil {
		return nil, err
	}
	return o.Fetch(req)
}

// NewGet builds a GET request for an origin-relative path.
func NewGet(ctx context.Context, path string) (*http.Request, error) {
	u, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

var hopByHop = []string{
	"Connection", "Proxy-Connection", "Keep-Alive",
	"Proxy-Authenticate", "Proxy-Authorization", "TE",
	"Trailer", "Transfer-Encoding", "Upgrade",
}

// StripHopByHop returns a copy of h without hop-by-hop headers, including
// those named by the Connection header.
func StripHopByHop(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, k := range hopByHop {
		out.Del(k)
	}
	for _, v := range h.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if token = strings.TrimSpace(token); token != "" {
				out.Del(token)
			}
		}
	}
	return out
}
