package prpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hicksonhaziel/xandviz/cache"
	"github.com/hicksonhaziel/xandviz/pnode"
)

const (
	pubA = "AbCdEfGhIjKlMnOpQrStUvWxYz0123456789abcd"
	pubB = "ZzCdEfGhIjKlMnOpQrStUvWxYz0123456789abcd"
)

func testServer(t *testing.T, handler func(method string, w http.ResponseWriter)) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.JSONRPC != "2.0" || req.ID != 1 {
			t.Errorf("bad envelope: %+v", req)
		}
		handler(req.Method, w)
	}))
	t.Cleanup(srv.Close)
	client := NewClient(Options{Endpoint: srv.URL + "/rpc", Timeout: 5 * time.Second})
	return srv, client
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	p, _ := strconv.Atoi(port)
	return p
}

func TestGetClusterNodes(t *testing.T) {
	now := time.Now().Unix()
	_, client := testServer(t, func(method string, w http.ResponseWriter) {
		if method != "get-pods-with-stats" {
			t.Errorf("method = %q", method)
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"pods":[
			{"pubkey":%q,"version":"0.8.0","uptime":1200,"last_seen_timestamp":%d,"address":"10.0.0.1:9001","rpc_port":6000,"is_public":true,"storage_committed":100,"storage_used":10,"storage_usage_percent":10},
			{"pubkey":"","version":"0.8.0"},
			{"pubkey":%q,"uptime":"-5","storage_usage_percent":140}
		]}}`, pubA, now, pubB)
	})

	nodes, err := client.GetClusterNodes(t.Context())
	if err != nil {
		t.Fatalf("GetClusterNodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("len = %d, want 2", len(nodes))
	}
	if nodes[0].Status != pnode.StatusActive || nodes[0].IPAddress != "10.0.0.1" {
		t.Errorf("first node = %+v", nodes[0])
	}
	if nodes[1].Version != "unknown" || nodes[1].UptimeSeconds != 0 || nodes[1].StorageUsagePercent != 100 {
		t.Errorf("second node not coerced: %+v", nodes[1])
	}
	if nodes[1].Status != pnode.StatusOffline {
		t.Errorf("missing last_seen should be offline, got %s", nodes[1].Status)
	}
}

func TestGetClusterNodesRPCError(t *testing.T) {
	_, client := testServer(t, func(method string, w http.ResponseWriter) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)
	})
	_, err := client.GetClusterNodes(t.Context())
	if !errors.Is(err, pnode.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestGetClusterNodesHTTPError(t *testing.T) {
	_, client := testServer(t, func(method string, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.GetClusterNodes(t.Context())
	if !errors.Is(err, pnode.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestGetClusterNodesCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"pods":[{"pubkey":%q}]}}`, pubA)
	}))
	defer srv.Close()
	client := NewClient(Options{Endpoint: srv.URL, Cache: cache.NewMemory()})

	for i := 0; i < 3; i++ {
		if _, err := client.GetClusterNodes(t.Context()); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
	if err := client.InvalidateCluster(t.Context()); err != nil {
		t.Fatal(err)
	}
	if _, err := client.GetClusterNodes(t.Context()); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("upstream calls after invalidate = %d, want 2", calls.Load())
	}
}

func TestGetNodeInfo(t *testing.T) {
	var port int
	srv, client := testServer(t, func(method string, w http.ResponseWriter) {
		switch method {
		case "get-pods-with-stats":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"pods":[
				{"pubkey":%q,"address":"127.0.0.1:9001","rpc_port":%d,"is_public":true},
				{"pubkey":%q,"is_public":false}
			]}}`, pubA, port, pubB)
		case "get-stats":
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"cpu_percent":12.5,"ram_total":1000,"ram_used":250}}`)
		default:
			t.Errorf("unexpected method %q", method)
		}
	})
	port = serverPort(t, srv)

	node, err := client.GetNodeInfo(t.Context(), "  "+pubA+" ")
	if err != nil {
		t.Fatalf("GetNodeInfo: %v", err)
	}
	if node.Private || node.Details == nil || *node.Details.CPUPercent != 12.5 {
		t.Errorf("public node = %+v", node)
	}
	if pct, ok := node.Details.RAMPercent(); !ok || pct != 25 {
		t.Errorf("ram percent = %v %v", pct, ok)
	}

	node, err = client.GetNodeInfo(t.Context(), "zzcdefghijklmnopqrstuvwxyz0123456789ABCD")
	if err != nil {
		t.Fatalf("GetNodeInfo (case-insensitive): %v", err)
	}
	if !node.Private || node.Details != nil {
		t.Errorf("private node = %+v", node)
	}

	_, err = client.GetNodeInfo(t.Context(), "nosuchpubkeynosuchpubkeynosuchpubkey")
	if !errors.Is(err, pnode.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetNodeInfoStatsFailure(t *testing.T) {
	_, client := testServer(t, func(method string, w http.ResponseWriter) {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"pods":[{"pubkey":%q,"address":"127.0.0.1:1","rpc_port":1,"is_public":true}]}}`, pubA)
	})
	node, err := client.GetNodeInfo(t.Context(), pubA)
	if err != nil {
		t.Fatalf("GetNodeInfo: %v", err)
	}
	if node.Details != nil || node.Private {
		t.Errorf("node = %+v, want public without details", node)
	}
}

func TestGetPodCredits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		fmt.Fprint(w, `{"pods_credits":[{"pod_id":"p1","credits":12.5},{"pod_id":"p2","credits":0}]}`)
	}))
	defer srv.Close()

	resp, err := NewCreditsClient(srv.URL, time.Second).GetPodCredits(t.Context())
	if err != nil {
		t.Fatalf("GetPodCredits: %v", err)
	}
	if len(resp.PodsCredits) != 2 || resp.PodsCredits[0].PodID != "p1" || resp.PodsCredits[0].Credits != 12.5 {
		t.Errorf("credits = %+v", resp.PodsCredits)
	}
}

func TestGetPodCreditsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewCreditsClient(srv.URL, time.Second).GetPodCredits(t.Context())
	if !errors.Is(err, pnode.ErrUpstreamUnavailable) {
		t.Errorf("err = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestPing(t *testing.T) {
	var fail atomic.Bool
	_, client := testServer(t, func(_ string, w http.ResponseWriter) {
		if fail.Load() {
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"down"}}`)
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"pods":[]}}`)
	})
	if err := client.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	fail.Store(true)
	if err := client.Ping(t.Context()); !errors.Is(err, pnode.ErrUpstreamUnavailable) {
		t.Fatalf("Ping err = %v, want ErrUpstreamUnavailable", err)
	}
}
