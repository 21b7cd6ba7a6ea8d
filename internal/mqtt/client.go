// client.go: paho-backed implementation of the Client interface.
package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/observability/metrics"
	"github.com/plategate/plategate/internal/privacy"
)

// Detections and decisions both ride QoS 1; the pipeline's delivery-id dedup
// absorbs the at-least-once redeliveries.
const subscriptionQoS = 1

// client implements the Client interface.
type client struct {
	config          Config
	brokerDisplay   string // broker URL with credentials stripped, for logs
	internalClient  pahomqtt.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	subs            map[string]MessageHandler
	reconnectTimer  *time.Timer
	reconnectStop   chan struct{}
	stopOnce        sync.Once
	metrics         *metrics.MQTTMetrics
}

// NewClient creates a new MQTT client from the edge settings. The metrics may
// be nil.
func NewClient(settings *conf.Settings, m *metrics.MQTTMetrics) (Client, error) {
	mc := &settings.Edge.MQTT
	if mc.Broker == "" {
		return nil, errors.Newf("MQTT broker is not configured").
			Component("mqtt").
			Category(errors.CategoryValidation).
			Build()
	}

	clientID := settings.Edge.DeviceID
	if clientID == "" {
		clientID = settings.Main.Name
	}

	cfg := DefaultConfig()
	cfg.Broker = mc.Broker
	cfg.ClientID = clientID
	cfg.Username = mc.Username
	cfg.Password = mc.Password

	return &client{
		config:        cfg,
		brokerDisplay: privacy.RedactCredentials(cfg.Broker),
		subs:          make(map[string]MessageHandler),
		reconnectStop: make(chan struct{}),
		metrics:       m,
	}, nil
}

// Connect attempts to establish a connection to the MQTT broker. It resolves
// the broker's hostname first so an unreachable DNS name fails fast instead
// of tying up the paho connect loop.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient != nil && c.internalClient.IsConnected() {
		return nil
	}

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryValidation).
			Context("broker", c.brokerDisplay).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryMQTTConnection).
				Context("host", host).
				Context("operation", "resolve-broker").
				Build()
		}
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	// Reconnection runs through onConnectionLost so the backoff stays
	// observable; paho's own retry loops stay off.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internalClient = pahomqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("connection timeout").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("broker", c.brokerDisplay).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("broker", c.brokerDisplay).
			Build()
	}

	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	var timer *metrics.PublishTimer
	if c.metrics != nil {
		timer = c.metrics.StartPublishTimer()
	}

	token := c.internalClient.Publish(topic, subscriptionQoS, false, payload)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		return errors.Newf("publish timeout").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	if timer != nil {
		timer.ObserveDuration()
	}
	if c.metrics != nil {
		c.metrics.IncrementMessagesDelivered()
		c.metrics.ObserveMessageSize(float64(len(payload)))
	}
	return nil
}

// Subscribe registers a handler for a topic. When already connected the
// subscription is applied immediately; it is restored on every reconnect.
func (c *client) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subs[topic] = handler
	if c.internalClient != nil && c.internalClient.IsConnected() {
		return c.subscribeLocked(topic, handler)
	}
	return nil
}

// subscribeLocked applies one subscription on the live connection. The mutex
// must be held.
func (c *client) subscribeLocked(topic string, handler MessageHandler) error {
	token := c.internalClient.Subscribe(topic, subscriptionQoS, c.wrap(handler))
	if !token.WaitTimeout(c.config.SubscribeTimeout) {
		return errors.Newf("subscribe timeout").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("topic", topic).
			Build()
	}
	getLogger().Info("subscribed", "topic", topic)
	return nil
}

// wrap adapts a MessageHandler to paho's callback shape.
func (c *client) wrap(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if c.metrics != nil {
			c.metrics.IncrementMessagesReceived()
		}
		handler(msg.Topic(), msg.Payload())
	}
}

// IsConnected returns true if the client is currently connected.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker and stops any pending
// reconnect attempts. Safe to call more than once.
func (c *client) Disconnect() {
	c.stopOnce.Do(func() {
		close(c.reconnectStop)
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		if c.metrics != nil {
			c.metrics.UpdateConnectionStatus(false)
		}
	}
}

// onConnect restores every registered subscription; with clean sessions the
// broker forgets them between connections.
func (c *client) onConnect(_ pahomqtt.Client) {
	getLogger().Info("connected to MQTT broker", "broker", c.brokerDisplay)
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, handler := range c.subs {
		if err := c.subscribeLocked(topic, handler); err != nil {
			getLogger().Error("failed to restore subscription", "topic", topic, "error", err)
		}
	}
}

func (c *client) onConnectionLost(_ pahomqtt.Client, err error) {
	getLogger().Warn("connection to MQTT broker lost", "broker", c.brokerDisplay, "error", err)
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(false)
		c.metrics.IncrementErrors()
	}
	c.startReconnectTimer()
}

func (c *client) startReconnectTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		select {
		case <-c.reconnectStop:
			return
		default:
			c.reconnectWithBackoff()
		}
	})
}

// reconnectWithBackoff retries the connection with an exponential delay,
// starting at one second and capped at five minutes, until it succeeds or the
// client is disconnected.
func (c *client) reconnectWithBackoff() {
	backoff := time.Second
	maxBackoff := 5 * time.Minute

	for {
		if c.metrics != nil {
			c.metrics.IncrementReconnectAttempts()
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			getLogger().Info("reconnected to MQTT broker", "broker", c.brokerDisplay)
			return
		}

		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		getLogger().Warn("failed to reconnect to MQTT broker",
			"broker", c.brokerDisplay,
			"retry_in", backoff,
			"error", err)

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case <-c.reconnectStop:
			return
		}
	}
}
