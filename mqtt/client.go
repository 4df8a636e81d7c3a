// Package mqtt owns the broker connection shared by the ingestor, the live
// broadcaster and the command dispatcher. The client is constructed once at
// process start, connected before serving traffic and disconnected at
// shutdown; everything that needs it receives it explicitly.
package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/cyclehub/rental-backend/internal/events"
)

// Topics the backend listens on. The + wildcard matches the bike id segment.
var inboundTopics = []string{
	"bike/+/heartbeat",
	"bike/+/gps",
	"bike/+/auth",
}

type Config struct {
	Broker   string
	Port     int
	Username string
	Password string
	ClientID string
}

type Client struct {
	c      paho.Client
	bus    *events.Bus
	logger *slog.Logger
}

// NewClient builds the client. Inbound messages are pushed onto the bus from
// paho's callback goroutine; nothing heavier happens there.
func NewClient(cfg Config, bus *events.Bus, logger *slog.Logger) *Client {
	cl := &Client{bus: bus, logger: logger}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "server-backend-" + uuid.NewString()[:8]
	}

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Subscriptions are re-established on every (re)connect so the core
	// registers interest exactly once.
	opts.SetOnConnectHandler(func(c paho.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker, "client_id", clientID)
		cl.subscribeAll(c)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	cl.c = paho.NewClient(opts)
	return cl
}

// Connect blocks until the first connection attempt resolves.
func (cl *Client) Connect() error {
	token := cl.c.Connect()
	token.Wait()
	return token.Error()
}

func (cl *Client) Disconnect() {
	cl.c.Disconnect(250)
}

func (cl *Client) Connected() bool {
	return cl.c.IsConnectionOpen()
}

// Publish sends one message at QoS 1 without waiting for the broker ack.
// The control channel is best-effort; the bike's own retry logic is the
// backstop.
func (cl *Client) Publish(topic string, payload []byte) error {
	token := cl.c.Publish(topic, 1, false, payload)
	if token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (cl *Client) subscribeAll(c paho.Client) {
	for _, topic := range inboundTopics {
		topic := topic
		token := c.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
			cl.bus.Publish(events.Message{Topic: m.Topic(), Payload: m.Payload()})
		})
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				cl.logger.Error("mqtt subscribe failed", "topic", topic, "error", err)
			}
		}()
	}
}
