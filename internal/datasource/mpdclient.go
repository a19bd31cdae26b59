package datasource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ericcug/dashcore/internal/manifest"
)

// MPDClient fetches and parses a DASH manifest, implementing
// manifest.MPDClient. Grounded directly on the teacher's
// dash.Client.FetchAndParseMPD (internal/dash/client.go): a short
// ResponseHeaderTimeout, manual redirect capture so relative Period/
// Representation BaseURLs resolve against the manifest's true final
// location rather than the originally-requested one.
type MPDClient struct {
	client       *http.Client
	resolvedBase string
}

// NewMPDClient builds an MPDClient.
func NewMPDClient() *MPDClient {
	c := &MPDClient{}
	c.client = &http.Client{
		Transport: &http.Transport{ResponseHeaderTimeout: 3 * time.Second},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			c.resolvedBase = req.URL.String()
			return http.ErrUseLastResponse
		},
	}
	return c
}

// FetchAndParseMPD implements manifest.MPDClient.
func (c *MPDClient) FetchAndParseMPD(ctx context.Context, rawURL string) (*manifest.Manifest, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("mpdclient: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("mpdclient: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	for redirects := 0; resp.StatusCode >= 300 && resp.StatusCode < 400 && redirects < 10; redirects++ {
		loc := resp.Header.Get("Location")
		if loc == "" {
			return nil, "", fmt.Errorf("mpdclient: redirect with no Location header")
		}
		next, err := resolveReference(rawURL, loc)
		if err != nil {
			return nil, "", fmt.Errorf("mpdclient: resolve redirect: %w", err)
		}
		resp.Body.Close()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, "", fmt.Errorf("mpdclient: build redirected request: %w", err)
		}
		resp, err = c.client.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("mpdclient: redirected fetch %s: %w", next, err)
		}
		rawURL = next
		c.resolvedBase = next
	}

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("mpdclient: %s returned status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("mpdclient: read body: %w", err)
	}

	base := c.resolvedBase
	if base == "" {
		base = rawURL
	}

	m, err := manifest.ParseMPD(data, base)
	if err != nil {
		return nil, "", fmt.Errorf("mpdclient: %w", err)
	}
	return m, base, nil
}
