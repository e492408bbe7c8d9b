package engine

import (
	"context"

	"github.com/hicksonhaziel/xandviz/messaging"
	"github.com/hicksonhaziel/xandviz/pnode"
	"github.com/hicksonhaziel/xandviz/prpc"
)

// busEmitter bridges the collector's emitter interface to the EventBus.
type busEmitter struct {
	bus *EventBus
}

func (e *busEmitter) EmitCollectionCompleted(ev messaging.CollectionCompleted) {
	e.bus.Emit(Event{Type: EventCollectionCompleted, Payload: ev})
}

// creditSource unwraps the credit source response for the collector.
type creditSource struct {
	client *prpc.CreditsClient
}

func (s *creditSource) GetPodCredits(ctx context.Context) ([]pnode.CreditEntry, error) {
	resp, err := s.client.GetPodCredits(ctx)
	if err != nil {
		return nil, err
	}
	return resp.PodsCredits, nil
}
