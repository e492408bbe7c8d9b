// Package prpc talks to the gossip network's pRPC endpoint, to individual public
// pods, and to the pod credit source.
package prpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hicksonhaziel/xandviz/cache"
	"github.com/hicksonhaziel/xandviz/pnode"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultStatsTimeout = 3 * time.Second
	DefaultClusterTTL   = 30 * time.Second

	clusterCacheKey = "prpc:cluster"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Error   json.RawMessage `json:"error,omitempty"`
	Result  json.RawMessage `json:"result"`
}

func (r *rpcResponse) err() error {
	if len(r.Error) == 0 || string(r.Error) == "null" {
		return nil
	}
	var e struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(r.Error, &e) == nil && e.Message != "" {
		return fmt.Errorf("rpc error %d: %s", e.Code, e.Message)
	}
	return fmt.Errorf("rpc error: %s", string(r.Error))
}

type Options struct {
	Endpoint     string
	Timeout      time.Duration
	StatsTimeout time.Duration
	// Cache holds the cluster list for ClusterTTL. Nil disables caching.
	Cache      cache.Cache
	ClusterTTL time.Duration
	Log        *zap.SugaredLogger
}

// Client reads the cluster node list and per-pod stats.
type Client struct {
	mu          sync.RWMutex
	endpoint    string
	httpClient  *http.Client
	statsClient *http.Client

	cache      cache.Cache
	clusterTTL time.Duration
	log        *zap.SugaredLogger
	now        func() time.Time
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.StatsTimeout <= 0 {
		opts.StatsTimeout = DefaultStatsTimeout
	}
	if opts.ClusterTTL <= 0 {
		opts.ClusterTTL = DefaultClusterTTL
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	return &Client{
		endpoint:    strings.TrimSuffix(opts.Endpoint, "/"),
		httpClient:  &http.Client{Timeout: opts.Timeout},
		statsClient: &http.Client{Timeout: opts.StatsTimeout},
		cache:       opts.Cache,
		clusterTTL:  opts.ClusterTTL,
		log:         opts.Log,
		now:         time.Now,
	}
}

// Endpoint returns the configured pRPC URL.
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// Reconfigure updates the endpoint and timeout for hot-reload.
func (c *Client) Reconfigure(endpoint string, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint = strings.TrimSuffix(endpoint, "/")
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
}

func (c *Client) call(ctx context.Context, hc *http.Client, url, method string, result any) error {
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: []any{}})
	if err != nil {
		return fmt.Errorf("prpc marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("prpc %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("prpc POST %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("prpc read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("prpc HTTP %d: %s", resp.StatusCode, truncate(body))
	}
	var rr rpcResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return fmt.Errorf("prpc decode: %w", err)
	}
	if err := rr.err(); err != nil {
		return err
	}
	if result != nil && len(rr.Result) > 0 {
		if err := json.Unmarshal(rr.Result, result); err != nil {
			return fmt.Errorf("prpc decode result: %w", err)
		}
	}
	return nil
}

// GetClusterNodes returns every pod reported by get-pods-with-stats. Failures are
// wrapped in pnode.ErrUpstreamUnavailable.
func (c *Client) GetClusterNodes(ctx context.Context) ([]pnode.NodeRecord, error) {
	if c.cache != nil {
		var cached []pnode.NodeRecord
		if ok, err := c.cache.Get(ctx, clusterCacheKey, &cached); err != nil {
			c.log.Warnf("prpc: cluster cache read: %v", err)
		} else if ok {
			return cached, nil
		}
	}

	c.mu.RLock()
	endpoint, hc := c.endpoint, c.httpClient
	c.mu.RUnlock()

	var result struct {
		Pods []pnode.RawPod `json:"pods"`
	}
	if err := c.call(ctx, hc, endpoint, "get-pods-with-stats", &result); err != nil {
		return nil, fmt.Errorf("%w: %v", pnode.ErrUpstreamUnavailable, err)
	}
	nodes := pnode.FromRawList(result.Pods, c.now())

	if c.cache != nil {
		if err := c.cache.Set(ctx, clusterCacheKey, nodes, c.clusterTTL); err != nil {
			c.log.Warnf("prpc: cluster cache write: %v", err)
		}
	}
	return nodes, nil
}

// Ping calls get-pods-with-stats directly, bypassing the cache.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.RLock()
	endpoint, hc := c.endpoint, c.httpClient
	c.mu.RUnlock()
	if err := c.call(ctx, hc, endpoint, "get-pods-with-stats", nil); err != nil {
		return fmt.Errorf("%w: %v", pnode.ErrUpstreamUnavailable, err)
	}
	return nil
}

// InvalidateCluster drops the cached cluster list.
func (c *Client) InvalidateCluster(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Delete(ctx, clusterCacheKey)
}

// GetNodeInfo finds a pod by pubkey, ignoring case and surrounding space.
// Private pods come back flagged; public pods carry get-stats details when the
// pod answers in time.
func (c *Client) GetNodeInfo(ctx context.Context, pubkey string) (*pnode.NodeRecord, error) {
	nodes, err := c.GetClusterNodes(ctx)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(strings.TrimSpace(pubkey))
	for _, n := range nodes {
		if strings.ToLower(strings.TrimSpace(n.Pubkey)) != want {
			continue
		}
		node := n
		if !node.IsPublic {
			node.Private = true
			return &node, nil
		}
		stats, err := c.GetStats(ctx, node)
		if err != nil {
			c.log.Warnf("prpc: stats for %s: %v", node.Pubkey, err)
		}
		node.Details = stats
		return &node, nil
	}
	return nil, fmt.Errorf("pnode %s: %w", pubkey, pnode.ErrNotFound)
}

// GetStats calls get-stats on a public pod's own RPC port.
func (c *Client) GetStats(ctx context.Context, node pnode.NodeRecord) (*pnode.Stats, error) {
	if node.IPAddress == "" || node.RPCPort == 0 {
		return nil, fmt.Errorf("prpc: no rpc address for %s", node.Pubkey)
	}
	url := fmt.Sprintf("http://%s:%d/rpc", node.IPAddress, node.RPCPort)
	var stats pnode.Stats
	if err := c.call(ctx, c.statsClient, url, "get-stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
