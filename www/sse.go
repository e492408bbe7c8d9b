package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hicksonhaziel/xandviz/engine"
	"github.com/hicksonhaziel/xandviz/metrics"
)

const keepaliveInterval = 30 * time.Second

type SSEEvent struct {
	Event string
	Data  string
}

// EventHub fans engine events out to connected SSE clients. Slow clients drop
// events rather than block the hub.
type EventHub struct {
	mu        sync.RWMutex
	clients   map[chan SSEEvent]struct{}
	broadcast chan SSEEvent
	stopChan  chan struct{}
	stopOnce  sync.Once
	log       *zap.SugaredLogger
}

func NewEventHub(log *zap.SugaredLogger) *EventHub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &EventHub{
		clients:   make(map[chan SSEEvent]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
		log:       log,
	}
}

func (h *EventHub) Start() {
	go h.run()
}

func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

func (h *EventHub) run() {
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.send(evt)
		case <-keepalive.C:
			h.send(SSEEvent{Event: "keepalive", Data: "ping"})
		}
	}
}

func (h *EventHub) send(evt SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *EventHub) Broadcast(event, data string) {
	select {
	case h.broadcast <- SSEEvent{Event: event, Data: data}:
	default:
		h.log.Warnf("sse: broadcast buffer full, dropping %s", event)
	}
}

func (h *EventHub) AddClient() chan SSEEvent {
	ch := make(chan SSEEvent, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	metrics.SSEClients.Inc()
	return ch
}

func (h *EventHub) RemoveClient(ch chan SSEEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	metrics.SSEClients.Dec()
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SetupEngineListeners broadcasts every engine event under its type name with
// the JSON-encoded payload as data.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	eng.Events.Subscribe(func(evt engine.Event) {
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			h.log.Warnf("sse: encode %s: %v", evt.Type, err)
			return
		}
		h.Broadcast(evt.Type.String(), string(data))
	})
}

// SSEHandler serves the SSE endpoint.
func (h *EventHub) SSEHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.AddClient()
	defer h.RemoveClient(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case evt := <-ch:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, evt.Data); err != nil {
				h.log.Debugf("sse: write error: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
