package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	v1 "pulse/contracts/feed/v1"
)

// HTTPFetcher implements Fetcher against the server's replay endpoint
// (GET /feed/events?since=<RFC3339>).
type HTTPFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPFetcher constructs an HTTPFetcher. client may be nil for a default
// client with a 10s timeout.
func NewHTTPFetcher(endpoint string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{url: endpoint, client: client}
}

// FetchSince implements Fetcher.
func (f *HTTPFetcher) FetchSince(ctx context.Context, token string, since time.Time) ([]v1.Envelope, error) {
	u, err := url.Parse(f.url)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch events: status %d", resp.StatusCode)
	}

	var envs []v1.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envs); err != nil {
		return nil, err
	}
	return envs, nil
}
