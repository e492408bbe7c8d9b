package engine

import (
	"context"
	"time"

	"github.com/hicksonhaziel/xandviz/messaging"
)

// Component states reported by Health.
const (
	StateOK       = "ok"
	StateDown     = "down"
	StateDisabled = "disabled"
)

type ComponentHealth struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type Health struct {
	Upstream  ComponentHealth `json:"upstream"`
	Redis     ComponentHealth `json:"redis"`
	Messaging ComponentHealth `json:"messaging"`
	CheckedAt time.Time       `json:"checkedAt"`
}

// Healthy reports whether nothing enabled is down.
func (h Health) Healthy() bool {
	return h.Upstream.Status != StateDown && h.Redis.Status != StateDown && h.Messaging.Status != StateDown
}

// Health probes every dependency now and emits connect/disconnect events for
// any that changed since the last probe.
func (e *Engine) Health(ctx context.Context) Health {
	return e.checkConnectionStatus(ctx)
}

// LastHealth returns the result of the most recent probe without probing.
func (e *Engine) LastHealth() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

func (e *Engine) probe(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	h := Health{CheckedAt: time.Now()}

	h.Upstream = ComponentHealth{Status: StateDisabled}
	if e.prpc != nil {
		h.Upstream = ComponentHealth{Status: StateOK, Detail: e.prpc.Endpoint()}
		if err := e.prpc.Ping(ctx); err != nil {
			h.Upstream = ComponentHealth{Status: StateDown, Detail: err.Error()}
		}
	}

	h.Redis = ComponentHealth{Status: StateDisabled}
	if e.redis != nil {
		h.Redis = ComponentHealth{Status: StateOK}
		if err := e.redis.Ping(ctx).Err(); err != nil {
			h.Redis = ComponentHealth{Status: StateDown, Detail: err.Error()}
		}
	}

	h.Messaging = ComponentHealth{Status: StateDisabled}
	if backend := e.msgClient.Backend(); backend != messaging.BackendNone {
		h.Messaging = ComponentHealth{Status: StateOK, Detail: backend}
		if !e.msgClient.IsConnected() {
			h.Messaging = ComponentHealth{Status: StateDown, Detail: backend + " disconnected"}
		}
	}
	return h
}

func (e *Engine) checkConnectionStatus(ctx context.Context) Health {
	h := e.probe(ctx)

	e.mu.Lock()
	prev := e.health
	e.health = h
	e.mu.Unlock()

	e.emitTransition("upstream", prev.Upstream, h.Upstream, EventUpstreamConnected, EventUpstreamDisconnected)
	e.emitTransition("redis", prev.Redis, h.Redis, EventRedisConnected, EventRedisDisconnected)
	e.emitTransition("messaging", prev.Messaging, h.Messaging, EventMessagingConnected, EventMessagingDisconnected)
	return h
}

func (e *Engine) emitTransition(component string, prev, cur ComponentHealth, up, down EventType) {
	if prev.Status == cur.Status {
		return
	}
	switch cur.Status {
	case StateOK:
		e.log.Infof("engine: %s connected", component)
		e.Events.Emit(Event{Type: up, Payload: ConnectionEvent{Component: component, Detail: cur.Detail}})
	case StateDown:
		e.log.Warnf("engine: %s disconnected: %s", component, cur.Detail)
		e.Events.Emit(Event{Type: down, Payload: ConnectionEvent{Component: component, Detail: cur.Detail}})
	}
}

func (e *Engine) connectionHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkConnectionStatus(ctx)
		}
	}
}
