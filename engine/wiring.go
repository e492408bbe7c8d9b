package engine

import (
	"context"
	"time"

	"github.com/hicksonhaziel/xandviz/cache"
	"github.com/hicksonhaziel/xandviz/messaging"
	"github.com/hicksonhaziel/xandviz/timeseries"
)

const publishTimeout = 5 * time.Second

func (e *Engine) wireEventHandlers() {
	// Housekeeping after each collection
	e.Events.Subscribe(func(evt Event) {
		ev := evt.Payload.(messaging.CollectionCompleted)
		if ev.Error != "" {
			return
		}
		if e.db != nil {
			if n, err := e.db.PruneRuns(time.Now().Add(-runRetention)); err != nil {
				e.log.Warnf("engine: prune runs: %v", err)
			} else if n > 0 {
				e.log.Debugf("engine: pruned %d collection runs", n)
			}
		}
		if mem, ok := e.series.(*timeseries.Memory); ok {
			if n := mem.Sweep(); n > 0 {
				e.log.Debugf("engine: swept %d expired snapshots", n)
			}
		}
	}, EventCollectionCompleted)

	// Policy reloads invalidate cached scores and are announced on the broker
	e.Events.Subscribe(func(evt Event) {
		ev := evt.Payload.(messaging.PolicyReloaded)
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if e.cache != nil {
			for _, key := range []string{cache.KeyNodes, cache.KeyLeaderboard} {
				if err := e.cache.Delete(ctx, key); err != nil {
					e.log.Warnf("engine: invalidate %s: %v", key, err)
				}
			}
		}

		e.cfg.RLock()
		topic := e.cfg.Messaging.CollectionTopic
		e.cfg.RUnlock()
		if topic == "" {
			return
		}
		env := messaging.NewEnvelope(messaging.TypePolicyReloaded, "xandviz", ev)
		if err := e.msgClient.PublishEnvelope(ctx, topic, env); err != nil {
			e.log.Warnf("engine: publish policy reload: %v", err)
		}
	}, EventPolicyReloaded)
}
