package prpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hicksonhaziel/xandviz/pnode"
)

const DefaultCreditsURL = "https://podcredits.xandeum.network/api/pods-credits"

// CreditsResponse is the credit source payload.
type CreditsResponse struct {
	PodsCredits []pnode.CreditEntry `json:"pods_credits"`
}

// CreditsClient reads pod credit balances.
type CreditsClient struct {
	url        string
	httpClient *http.Client
}

func NewCreditsClient(url string, timeout time.Duration) *CreditsClient {
	if url == "" {
		url = DefaultCreditsURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CreditsClient{url: url, httpClient: &http.Client{Timeout: timeout}}
}

func (c *CreditsClient) URL() string { return c.url }

// GetPodCredits fetches all pod balances. Failures wrap pnode.ErrUpstreamUnavailable.
func (c *CreditsClient) GetPodCredits(ctx context.Context) (*CreditsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("credits: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: credits GET: %v", pnode.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: credits read body: %v", pnode.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: credits HTTP %d", pnode.ErrUpstreamUnavailable, resp.StatusCode)
	}
	var out CreditsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: credits decode: %v", pnode.ErrUpstreamUnavailable, err)
	}
	if out.PodsCredits == nil {
		out.PodsCredits = []pnode.CreditEntry{}
	}
	return &out, nil
}
