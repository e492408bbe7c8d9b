package www

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/hicksonhaziel/xandviz/engine"
	"github.com/hicksonhaziel/xandviz/metrics"
)

type Handlers struct {
	engine   *engine.Engine
	eventHub *EventHub
	log      *zap.SugaredLogger
	now      func() time.Time

	// pending tracks fire-and-forget cache writes.
	pending sync.WaitGroup
}

func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	h := newHandlers(eng)
	h.eventHub.Start()

	stopFn := func() {
		h.eventHub.Stop()
		h.pending.Wait()
	}
	return h.routes(), stopFn
}

func newHandlers(eng *engine.Engine) *Handlers {
	hub := NewEventHub(eng.Logger())
	hub.SetupEngineListeners(eng)
	return &Handlers{
		engine:   eng,
		eventHub: hub,
		log:      eng.Logger(),
		now:      time.Now,
	}
}

func (h *Handlers) routes() http.Handler {
	cfg := h.engine.AppConfig()
	cfg.RLock()
	origins := cfg.Web.CORSOrigins
	cfg.RUnlock()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler)

	// SSE and metrics stay uncompressed and uninstrumented
	r.Get("/events", h.eventHub.SSEHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Use(instrument)

		r.Get("/pnodes", h.apiListPNodes)
		r.Get("/pnodes/{pubkey}", h.apiGetPNode)
		r.Get("/xandscore/{pubkey}", h.apiXandScore)
		r.Get("/stats", h.apiStats)
		r.Get("/leaderboard", h.apiLeaderboard)
		r.Get("/pods-credits", h.apiPodsCredits)
		r.Get("/health", h.apiHealth)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/node/{pubkey}", h.apiNodeHistory)
			r.Get("/pod/{podId}", h.apiPodHistory)
			r.Get("/overview", h.apiOverview)
			r.Get("/runs", h.apiListRuns)
			r.With(h.requireCollectToken).Post("/collect", h.apiCollect)
		})
	})
	return r
}

// instrument records request counts and latency per route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTP(route, r.Method, status, time.Since(start).Seconds())
	})
}
