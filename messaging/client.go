package messaging

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hicksonhaziel/xandviz/config"
)

const (
	BackendKafka = "kafka"
	BackendMQTT  = "mqtt"
	BackendNone  = "none"
)

const connectTimeout = 5 * time.Second

// Client publishes envelopes over Kafka or MQTT. The "none" backend accepts and
// drops every message.
type Client struct {
	mu       sync.RWMutex
	cfg      config.MessagingConfig
	log      *zap.SugaredLogger
	kafkaW   *kafka.Writer
	mqttConn mqtt.Client
}

func NewClient(cfg config.MessagingConfig, log *zap.SugaredLogger) *Client {
	if cfg.Backend == "" {
		cfg.Backend = BackendNone
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{cfg: cfg, log: log}
}

func (c *Client) Backend() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Backend
}

// Topic is the topic collection results go to.
func (c *Client) Topic() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.CollectionTopic
}

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.cfg.Backend {
	case BackendKafka:
		return c.connectKafka()
	case BackendMQTT:
		return c.connectMQTT()
	case BackendNone:
		return nil
	default:
		return fmt.Errorf("unknown messaging backend: %s", c.cfg.Backend)
	}
}

func (c *Client) connectKafka() error {
	if len(c.cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	// Verify at least one broker is reachable
	var conn *kafka.Conn
	var connErr error
	for _, broker := range c.cfg.Kafka.Brokers {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		conn, connErr = kafka.DialContext(ctx, "tcp", broker)
		cancel()
		if connErr == nil {
			c.log.Infof("messaging: kafka connected to %s", broker)
			break
		}
	}
	if connErr != nil {
		return fmt.Errorf("kafka connect: %w", connErr)
	}
	c.ensureTopics(conn, c.cfg.CollectionTopic)
	conn.Close()

	c.kafkaW = &kafka.Writer{
		Addr:         kafka.TCP(c.cfg.Kafka.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return nil
}

// ensureTopics creates Kafka topics if they don't already exist. Failures are
// logged only; brokers may auto-create topics.
func (c *Client) ensureTopics(conn *kafka.Conn, topics ...string) {
	controller, err := conn.Controller()
	if err != nil {
		c.log.Warnf("messaging: cannot find controller for topic creation: %v", err)
		return
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		c.log.Warnf("messaging: cannot connect to controller: %v", err)
		return
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, len(topics))
	for i, t := range topics {
		configs[i] = kafka.TopicConfig{Topic: t, NumPartitions: 1, ReplicationFactor: 1}
	}
	if err := controllerConn.CreateTopics(configs...); err != nil {
		c.log.Warnf("messaging: topic auto-create: %v", err)
	}
}

func (c *Client) connectMQTT() error {
	broker := fmt.Sprintf("tcp://%s:%d", c.cfg.MQTT.Broker, c.cfg.MQTT.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.cfg.MQTT.ClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect: timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.log.Infof("messaging: mqtt connected to %s", broker)
	c.mqttConn = client
	return nil
}

// Publish sends payload to topic on the configured backend.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.cfg.Backend {
	case BackendKafka:
		if c.kafkaW == nil {
			return fmt.Errorf("kafka not connected")
		}
		return c.kafkaW.WriteMessages(ctx, kafka.Message{Topic: topic, Value: payload})
	case BackendMQTT:
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			return fmt.Errorf("mqtt not connected")
		}
		token := c.mqttConn.Publish(topic, 1, false, payload)
		select {
		case <-token.Done():
			return token.Error()
		case <-ctx.Done():
			return ctx.Err()
		}
	case BackendNone:
		return nil
	default:
		return fmt.Errorf("unknown backend: %s", c.cfg.Backend)
	}
}

// PublishEnvelope encodes and publishes an envelope to the given topic.
func (c *Client) PublishEnvelope(ctx context.Context, topic string, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.Publish(ctx, topic, data)
}

// IsConnected reports whether the backend can accept messages. The none backend
// is never connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.cfg.Backend {
	case BackendKafka:
		return c.kafkaW != nil
	case BackendMQTT:
		return c.mqttConn != nil && c.mqttConn.IsConnected()
	default:
		return false
	}
}

// Reconfigure closes the existing connection and reconnects with new config.
func (c *Client) Reconfigure(cfg config.MessagingConfig) error {
	c.Close()
	c.mu.Lock()
	if cfg.Backend == "" {
		cfg.Backend = BackendNone
	}
	c.cfg = cfg
	c.mu.Unlock()
	return c.Connect()
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mqttConn != nil {
		c.mqttConn.Disconnect(1000)
		c.mqttConn = nil
	}
	if c.kafkaW != nil {
		c.kafkaW.Close()
		c.kafkaW = nil
	}
}
