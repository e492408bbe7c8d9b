package www

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hicksonhaziel/xandviz/pnode"
)

const cacheWriteTimeout = 5 * time.Second

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warnf("www: encode response: %v", err)
	}
}

// jsonOK writes {success:true, data, timestamp} plus any extra top-level fields.
func (h *Handlers) jsonOK(w http.ResponseWriter, data any, extra ...map[string]any) {
	body := map[string]any{
		"success":   true,
		"data":      data,
		"timestamp": h.now().UnixMilli(),
	}
	for _, m := range extra {
		for k, v := range m {
			body[k] = v
		}
	}
	h.writeJSON(w, http.StatusOK, body)
}

func (h *Handlers) jsonError(w http.ResponseWriter, status int, errMsg, message string) {
	h.writeJSON(w, status, map[string]any{
		"success":   false,
		"error":     errMsg,
		"message":   message,
		"timestamp": h.now().UnixMilli(),
	})
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handlers) writeError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, pnode.ErrInvalidPubkey):
		h.jsonError(w, http.StatusBadRequest, "Invalid pubkey format", fmt.Sprintf("Pubkey must be at least %d characters", pnode.MinPubkeyLen))
	case errors.Is(err, pnode.ErrNotFound):
		h.jsonError(w, http.StatusNotFound, what+" not found", err.Error())
	case errors.Is(err, pnode.ErrUpstreamUnavailable):
		h.jsonError(w, http.StatusServiceUnavailable, "Upstream unavailable", err.Error())
	default:
		h.log.Errorf("www: %s: %v", what, err)
		h.jsonError(w, http.StatusInternalServerError, "Failed to fetch "+what, err.Error())
	}
}

// queryInt parses an optional integer parameter; def is returned when absent.
func queryInt(r *http.Request, name string, def int64) (int64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, s)
	}
	return n, nil
}

// useCache is false only for cache=false.
func useCache(r *http.Request) bool {
	return r.URL.Query().Get("cache") != "false"
}

// cacheAsync writes value without blocking the response. Failures are logged.
func (h *Handlers) cacheAsync(key string, value any, ttl time.Duration) {
	c := h.engine.Cache()
	if c == nil {
		return
	}
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		if err := c.Set(ctx, key, value, ttl); err != nil {
			h.log.Errorf("www: cache write %s: %v", key, err)
		}
	}()
}
