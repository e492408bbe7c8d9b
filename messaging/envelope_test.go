package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hicksonhaziel/xandviz/config"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := NewEnvelope(TypeCollectionCompleted, "xandviz", CollectionCompleted{
		RunID:          "run-1",
		NodesProcessed: 10,
		NodesFailed:    1,
		PodsProcessed:  4,
	})
	require.NotEmpty(t, env.MsgID)

	data, err := env.Encode()
	require.NoError(t, err)

	got, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.MsgID, got.MsgID)
	p, ok := got.Payload.(CollectionCompleted)
	require.True(t, ok, "payload type %T", got.Payload)
	assert.Equal(t, "run-1", p.RunID)
	assert.Equal(t, 1, p.NodesFailed)
}

func TestDecodeEnvelopeUnknownType(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"msg_type":"mystery","payload":{}}`))
	assert.Error(t, err)
	_, err = DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestNoneBackendDropsMessages(t *testing.T) {
	c := NewClient(config.MessagingConfig{}, nil)
	require.NoError(t, c.Connect())
	assert.Equal(t, BackendNone, c.Backend())
	assert.False(t, c.IsConnected())
	assert.NoError(t, c.PublishEnvelope(t.Context(), "topic", NewEnvelope(TypePolicyReloaded, "test", PolicyReloaded{})))
	c.Close()
}

func TestUnknownBackend(t *testing.T) {
	c := NewClient(config.MessagingConfig{Backend: "carrier-pigeon"}, nil)
	assert.Error(t, c.Connect())
	assert.Error(t, c.Publish(t.Context(), "t", nil))
}

func TestKafkaUnreachable(t *testing.T) {
	c := NewClient(config.MessagingConfig{Backend: BackendKafka, Kafka: config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}}}, nil)
	assert.Error(t, c.Connect())
	assert.False(t, c.IsConnected())
	assert.Error(t, c.Publish(t.Context(), "t", []byte("x")))
}
