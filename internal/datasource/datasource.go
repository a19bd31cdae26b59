// Package datasource implements the network fetch layer the spec names as
// an external collaborator ("DataSource — presents open/read/close with
// cancellation and a bandwidth meter"). This module ships the one
// necessary HTTP implementation, grounded on the teacher's dash.Client
// (internal/dash/client.go): a short ResponseHeaderTimeout and manual
// redirect interception so the final resolved URL can be reported back to
// the caller (used for relative segment URL resolution).
package datasource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ericcug/dashcore/internal/bandwidth"
)

// Spec identifies a byte range of a resource. Length -1 means "to end".
type Spec struct {
	URI    string
	Start  int64
	Length int64
}

// DataSource opens byte ranges with cancellation via the passed context;
// Open itself is expected to be cheap and the returned ReadCloser does the
// actual transfer.
type DataSource interface {
	Open(ctx context.Context, spec Spec) (io.ReadCloser, error)
}

// HTTPDataSource is the one concrete DataSource this module ships.
type HTTPDataSource struct {
	client *http.Client
	meter  *bandwidth.Meter
	header http.Header

	// ResolvedURI is set after the most recent successful Open, capturing
	// the final URL after redirects — mirrors the teacher's CheckRedirect
	// capture used to rebase subsequent relative segment references.
	ResolvedURI string
}

// New builds an HTTPDataSource. meter may be nil to disable bandwidth
// reporting (used for non-metered tracks per the all-tracks-metered
// option).
func New(meter *bandwidth.Meter) *HTTPDataSource {
	ds := &HTTPDataSource{
		meter:  meter,
		header: make(http.Header),
	}
	ds.client = &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 3 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			ds.ResolvedURI = req.URL.String()
			return http.ErrUseLastResponse
		},
	}
	return ds
}

// SetBearerToken installs the "auth" attribute (spec §6's set_attribute)
// as an Authorization header on every subsequent request.
func (d *HTTPDataSource) SetBearerToken(token string) {
	if token == "" {
		d.header.Del("Authorization")
		return
	}
	d.header.Set("Authorization", "Bearer "+token)
}

// Open issues a (possibly ranged) GET for spec, following redirects itself
// (since CheckRedirect returns http.ErrUseLastResponse only to capture the
// resolved URL) and returning the response body as the byte stream.
func (d *HTTPDataSource) Open(ctx context.Context, spec Spec) (io.ReadCloser, error) {
	d.ResolvedURI = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URI, nil)
	if err != nil {
		return nil, fmt.Errorf("datasource: build request: %w", err)
	}
	for k, vs := range d.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if spec.Start > 0 || spec.Length >= 0 {
		req.Header.Set("Range", rangeHeader(spec))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("datasource: request %s: %w", spec.URI, err)
	}

	// Follow redirects ourselves up to a small bound, since CheckRedirect
	// intercepts them to capture the resolved URL rather than following.
	for redirects := 0; resp.StatusCode >= 300 && resp.StatusCode < 400 && redirects < 10; redirects++ {
		loc := resp.Header.Get("Location")
		resp.Body.Close()
		if loc == "" {
			return nil, fmt.Errorf("datasource: redirect with no Location header")
		}
		next, err := resolveReference(spec.URI, loc)
		if err != nil {
			return nil, fmt.Errorf("datasource: resolve redirect: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("datasource: build redirected request: %w", err)
		}
		resp, err = d.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("datasource: redirected request %s: %w", next, err)
		}
		d.ResolvedURI = next
	}

	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("datasource: %s returned status %d", spec.URI, resp.StatusCode)
	}
	if d.ResolvedURI == "" {
		d.ResolvedURI = spec.URI
	}

	return &meteredBody{body: resp.Body, meter: d.meter, start: time.Now()}, nil
}

func resolveReference(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

func rangeHeader(spec Spec) string {
	if spec.Length < 0 {
		return fmt.Sprintf("bytes=%d-", spec.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", spec.Start, spec.Start+spec.Length-1)
}

// meteredBody wraps an HTTP response body, counting bytes as it is read and
// reporting (bytes, elapsed) to the bandwidth meter once, on Close.
type meteredBody struct {
	body  io.ReadCloser
	meter *bandwidth.Meter
	start time.Time
	read  int64
}

func (m *meteredBody) Read(p []byte) (int, error) {
	n, err := m.body.Read(p)
	m.read += int64(n)
	return n, err
}

func (m *meteredBody) Close() error {
	if m.meter != nil && m.read > 0 {
		m.meter.AddSample(m.read, time.Since(m.start))
	}
	return m.body.Close()
}
