package engine

type EventType int

const (
	EventCollectionCompleted EventType = iota + 1
	EventPolicyReloaded
	EventUpstreamConnected
	EventUpstreamDisconnected
	EventRedisConnected
	EventRedisDisconnected
	EventMessagingConnected
	EventMessagingDisconnected
)

var eventNames = map[EventType]string{
	EventCollectionCompleted:   "collection-completed",
	EventPolicyReloaded:        "policy-reloaded",
	EventUpstreamConnected:     "upstream-connected",
	EventUpstreamDisconnected:  "upstream-disconnected",
	EventRedisConnected:        "redis-connected",
	EventRedisDisconnected:     "redis-disconnected",
	EventMessagingConnected:    "messaging-connected",
	EventMessagingDisconnected: "messaging-disconnected",
}

// String is the SSE event name.
func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// Collection events carry a messaging.CollectionCompleted payload and policy
// events a messaging.PolicyReloaded payload.

type ConnectionEvent struct {
	Component string `json:"component"`
	Detail    string `json:"detail"`
}
