package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hicksonhaziel/xandviz/analytics"
	"github.com/hicksonhaziel/xandviz/pnode"
	"github.com/hicksonhaziel/xandviz/store"
)

const defaultRunsLimit = 20

// historyQuery reads startTime, endTime (epoch ms) and period.
func historyQuery(r *http.Request) (analytics.Query, error) {
	start, err := queryInt(r, "startTime", 0)
	if err != nil {
		return analytics.Query{}, err
	}
	end, err := queryInt(r, "endTime", 0)
	if err != nil {
		return analytics.Query{}, err
	}
	return analytics.Query{
		Start:  start,
		End:    end,
		Period: analytics.ParsePeriod(r.URL.Query().Get("period")),
	}, nil
}

func (h *Handlers) apiNodeHistory(w http.ResponseWriter, r *http.Request) {
	pubkey := chi.URLParam(r, "pubkey")
	if err := pnode.ValidatePubkey(pubkey); err != nil {
		h.writeError(w, "node history", err)
		return
	}
	q, err := historyQuery(r)
	if err != nil {
		h.jsonError(w, http.StatusBadRequest, "Invalid time range", err.Error())
		return
	}
	hist, err := h.engine.Analytics().NodeHistory(r.Context(), pubkey, q)
	if err != nil {
		h.writeError(w, "node history", err)
		return
	}
	if hist.Stats.DataPoints == 0 {
		h.jsonOK(w, hist, map[string]any{"message": "No historical data available for this node"})
		return
	}
	h.jsonOK(w, hist)
}

func (h *Handlers) apiPodHistory(w http.ResponseWriter, r *http.Request) {
	podID := chi.URLParam(r, "podId")
	q, err := historyQuery(r)
	if err != nil {
		h.jsonError(w, http.StatusBadRequest, "Invalid time range", err.Error())
		return
	}
	hist, err := h.engine.Analytics().PodCreditsHistory(r.Context(), podID, q)
	if err != nil {
		h.writeError(w, "pod history", err)
		return
	}
	if hist.Stats.DataPoints == 0 {
		h.jsonOK(w, hist, map[string]any{"message": "No historical data available for this pod"})
		return
	}
	h.jsonOK(w, hist)
}

func (h *Handlers) apiOverview(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", analytics.DefaultOverviewLimit)
	if err != nil {
		h.jsonError(w, http.StatusBadRequest, "Invalid limit", err.Error())
		return
	}
	ov, err := h.engine.Analytics().Overview(r.Context(), int(limit))
	if err != nil {
		h.writeError(w, "analytics overview", err)
		return
	}
	h.jsonOK(w, ov)
}

func (h *Handlers) apiCollect(w http.ResponseWriter, r *http.Request) {
	res, ran, err := h.engine.Collect(r.Context(), store.SourceAPI)
	if !ran {
		h.jsonError(w, http.StatusConflict, "Collection in progress", "A collection run is already running")
		return
	}
	if err != nil {
		h.writeError(w, "analytics collection", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Analytics data collected successfully",
		"stats":   res,
	})
}

func (h *Handlers) apiListRuns(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		h.jsonOK(w, []*store.CollectionRun{})
		return
	}
	limit, err := queryInt(r, "limit", defaultRunsLimit)
	if err != nil || limit <= 0 {
		h.jsonError(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
		return
	}
	runs, err := db.ListRuns(int(limit))
	if err != nil {
		h.writeError(w, "collection runs", err)
		return
	}
	h.jsonOK(w, runs)
}

// apiHealth serves the result of the periodic probe. refresh=true, or no probe
// having run yet, probes now.
func (h *Handlers) apiHealth(w http.ResponseWriter, r *http.Request) {
	health := h.engine.LastHealth()
	if r.URL.Query().Get("refresh") == "true" || health.CheckedAt.IsZero() {
		health = h.engine.Health(r.Context())
	}
	status := http.StatusOK
	if !health.Healthy() {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, map[string]any{
		"success":    health.Healthy(),
		"data":       health,
		"sseClients": h.eventHub.ClientCount(),
		"timestamp":  h.now().UnixMilli(),
	})
}
