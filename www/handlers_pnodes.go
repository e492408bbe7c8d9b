package www

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hicksonhaziel/xandviz/advisor"
	"github.com/hicksonhaziel/xandviz/cache"
	"github.com/hicksonhaziel/xandviz/metrics"
	"github.com/hicksonhaziel/xandviz/pnode"
	"github.com/hicksonhaziel/xandviz/scoring"
)

// scoredNodes returns every cluster node with its score, served from the nodes
// cache when fresh.
func (h *Handlers) scoredNodes(ctx context.Context) ([]scoring.ScoredNode, error) {
	if c := h.engine.Cache(); c != nil {
		var cached []scoring.ScoredNode
		ok, err := c.Get(ctx, cache.KeyNodes, &cached)
		if err != nil {
			h.log.Warnf("www: nodes cache read: %v", err)
		}
		metrics.RecordCacheLookup(cache.KeyNodes, ok && err == nil)
		if ok && err == nil {
			return cached, nil
		}
	}
	nodes, err := h.engine.PRPC().GetClusterNodes(ctx)
	metrics.RecordUpstream("prpc", err)
	if err != nil {
		return nil, err
	}
	scored, _ := h.engine.Scorer().ScoreAll(nodes, h.now())

	cfg := h.engine.AppConfig()
	cfg.RLock()
	ttl := cfg.Cache.NodesTTL
	cfg.RUnlock()
	h.cacheAsync(cache.KeyNodes, scored, ttl)
	return scored, nil
}

func (h *Handlers) apiListPNodes(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	minScore := math.Inf(-1)
	if s := r.URL.Query().Get("minScore"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			h.jsonError(w, http.StatusBadRequest, "Invalid minScore", "minScore must be a number")
			return
		}
		minScore = v
	}

	scored, err := h.scoredNodes(r.Context())
	if err != nil {
		h.writeError(w, "pNodes", err)
		return
	}

	filtered := make([]scoring.ScoredNode, 0, len(scored))
	for _, n := range scored {
		if status != "" && status != "all" && string(n.Status) != status {
			continue
		}
		if n.Score < minScore {
			continue
		}
		filtered = append(filtered, n)
	}
	h.jsonOK(w, filtered, map[string]any{
		"count": len(filtered),
		"stats": scoring.Summarize(scored),
	})
}

type networkComparison struct {
	UptimePercentile  float64                 `json:"uptimePercentile"`
	StoragePercentile float64                 `json:"storagePercentile"`
	NetworkAverage    scoring.NetworkAverages `json:"networkAverage"`
	TotalNodes        int                     `json:"totalNodes"`
}

type pnodeDetail struct {
	pnode.NodeRecord
	ScoreBreakdown    scoring.Breakdown        `json:"scoreBreakdown"`
	Score             float64                  `json:"score"`
	NetworkComparison networkComparison        `json:"networkComparison"`
	Recommendations   []advisor.Recommendation `json:"recommendations"`
}

func (h *Handlers) apiGetPNode(w http.ResponseWriter, r *http.Request) {
	pubkey := chi.URLParam(r, "pubkey")
	if err := pnode.ValidatePubkey(pubkey); err != nil {
		h.writeError(w, "pNode", err)
		return
	}

	node, err := h.engine.PRPC().GetNodeInfo(r.Context(), pubkey)
	if err != nil {
		h.writeError(w, "pNode", err)
		return
	}
	all, err := h.engine.PRPC().GetClusterNodes(r.Context())
	if err != nil {
		h.writeError(w, "pNode", err)
		return
	}

	avg := scoring.Averages(all)
	scorer := h.engine.Scorer()
	breakdown := scorer.ScoreAt(*node, avg, h.now())

	uptimes := make([]float64, len(all))
	storage := make([]float64, len(all))
	for i, n := range all {
		uptimes[i] = n.UptimeSeconds
		storage[i] = n.StorageCommitted
	}

	h.jsonOK(w, pnodeDetail{
		NodeRecord:     *node,
		ScoreBreakdown: breakdown,
		Score:          breakdown.Total,
		NetworkComparison: networkComparison{
			UptimePercentile:  math.Round(scoring.Percentile(node.UptimeSeconds, uptimes)),
			StoragePercentile: math.Round(scoring.Percentile(node.StorageCommitted, storage)),
			NetworkAverage:    avg,
			TotalNodes:        len(all),
		},
		Recommendations: advisor.Recommend(*node, breakdown, avg, scorer.Policy()),
	})
}

type xandScore struct {
	Score  float64 `json:"score"`
	Pubkey string  `json:"pubkey"`
}

// apiXandScore serves a cached score when one exists. Scores are cached under
// the node's own pubkey, so requests differing only in case share an entry.
func (h *Handlers) apiXandScore(w http.ResponseWriter, r *http.Request) {
	pubkey := chi.URLParam(r, "pubkey")
	if err := pnode.ValidatePubkey(pubkey); err != nil {
		h.writeError(w, "pNode", err)
		return
	}
	cached := useCache(r) && h.engine.Cache() != nil

	if cached {
		if score, ok := h.cachedScore(r.Context(), pubkey); ok {
			h.writeJSON(w, http.StatusOK, map[string]any{"xandscore": xandScore{Score: score, Pubkey: pubkey}})
			return
		}
	}

	node, err := h.engine.PRPC().GetNodeInfo(r.Context(), pubkey)
	if err != nil {
		h.writeError(w, "pNode", err)
		return
	}
	if cached && node.Pubkey != pubkey {
		if score, ok := h.cachedScore(r.Context(), node.Pubkey); ok {
			h.writeJSON(w, http.StatusOK, map[string]any{"xandscore": xandScore{Score: score, Pubkey: node.Pubkey}})
			return
		}
	}
	all, err := h.engine.PRPC().GetClusterNodes(r.Context())
	if err != nil {
		h.writeError(w, "pNode", err)
		return
	}
	score := h.engine.Scorer().ScoreAt(*node, scoring.Averages(all), h.now()).Total

	cfg := h.engine.AppConfig()
	cfg.RLock()
	ttl := cfg.Cache.ScoreTTL
	cfg.RUnlock()
	h.cacheAsync(cache.ScoreKey(node.Pubkey), score, ttl)

	h.writeJSON(w, http.StatusOK, map[string]any{"xandscore": xandScore{Score: score, Pubkey: node.Pubkey}})
}

func (h *Handlers) cachedScore(ctx context.Context, pubkey string) (float64, bool) {
	var score float64
	ok, err := h.engine.Cache().Get(ctx, cache.ScoreKey(pubkey), &score)
	if err != nil {
		h.log.Warnf("www: score cache read: %v", err)
	}
	hit := ok && err == nil
	metrics.RecordCacheLookup("score", hit)
	return score, hit
}

func (h *Handlers) apiStats(w http.ResponseWriter, r *http.Request) {
	scored, err := h.scoredNodes(r.Context())
	if err != nil {
		h.writeError(w, "statistics", err)
		return
	}
	h.jsonOK(w, scoring.Summarize(scored))
}

func (h *Handlers) apiLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.jsonError(w, http.StatusBadRequest, "Invalid limit", err.Error())
		return
	}
	res, err := h.engine.Leaderboard().Get(r.Context(), int(limit), useCache(r))
	if err != nil {
		h.writeError(w, "leaderboard", err)
		return
	}
	h.jsonOK(w, res.Entries, map[string]any{
		"total":  res.Total,
		"cached": res.Cached,
	})
}

func (h *Handlers) apiPodsCredits(w http.ResponseWriter, r *http.Request) {
	credits := h.engine.Credits()
	if credits == nil {
		h.jsonError(w, http.StatusServiceUnavailable, "Upstream unavailable", "no credit source configured")
		return
	}
	resp, err := credits.GetPodCredits(r.Context())
	metrics.RecordUpstream("credits", err)
	if err != nil {
		h.writeError(w, "pod credits", err)
		return
	}
	w.Header().Set("Cache-Control", "public, s-maxage=60, stale-while-revalidate=120")
	h.writeJSON(w, http.StatusOK, resp)
}
