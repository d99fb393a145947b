// Package publish mirrors decoded sensor readings to an MQTT broker.
//
// Each reading is published retained to <prefix>/sensors/<key>/reading.
// <prefix>/status carries "online" while the bridge runs and "offline" after
// a clean shutdown, or via the broker's last will after a crash.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/sensor"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 30 * time.Second
	disconnectQuiesce     = 250 // milliseconds

	feedBufferSize = 64
)

// Client is the part of the paho client the publisher uses.
type Client interface {
	Connect() pahomqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Feed is the source of reading updates.
type Feed interface {
	SubscribeReadings(ch chan<- sensor.ReadingUpdate) func()
}

type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// StatusTopic is where online/offline is published.
func (c Config) StatusTopic() string {
	return c.prefix() + "/status"
}

// ReadingTopic is where readings for the sensor key are published.
func (c Config) ReadingTopic(key string) string {
	return c.prefix() + "/sensors/" + key + "/reading"
}

func (c Config) prefix() string {
	return strings.TrimRight(c.TopicPrefix, "/")
}

// statusMessage is the body of status topic messages.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(status, clientID, reason string) []byte {
	//nolint:errcheck // fixed struct, cannot fail
	data, _ := json.Marshal(statusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return data
}

// NewClientOptions builds paho options with auto reconnect and an offline
// last will on the status topic.
func NewClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetWill(cfg.StatusTopic(), string(statusPayload("offline", cfg.ClientID, "unexpected_disconnect")), 1, true)
	return opts
}

// Publisher forwards a Feed to the broker.
type Publisher struct {
	client Client
	cfg    Config
	logger *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(client Client, cfg Config, logger *log.Logger) *Publisher {
	if client == nil {
		panic("Publisher: client cannot be nil")
	}
	if logger == nil {
		panic("Publisher: logger cannot be nil")
	}
	return &Publisher{client: client, cfg: cfg, logger: logger}
}

// Dial creates a paho client for cfg and connects it.
func Dial(cfg Config, logger *log.Logger) (*Publisher, error) {
	opts := NewClientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logger.Printf("MQTT: connected to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Printf("MQTT: connection lost: %v", err)
	})

	p := New(pahomqtt.NewClient(opts), cfg, logger)
	if err := p.Connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// Connect connects the client and announces the bridge online.
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("mqtt connect to %s: timeout after %v", p.cfg.Broker, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", p.cfg.Broker, err)
	}
	if err := p.publish(p.cfg.StatusTopic(), 1, statusPayload("online", p.cfg.ClientID, "")); err != nil {
		p.logger.Printf("MQTT: %v", err)
	}
	return nil
}

// Start publishes every update from feed until Close.
func (p *Publisher) Start(feed Feed) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	updates := make(chan sensor.ReadingUpdate, feedBufferSize)
	unsubscribe := feed.SubscribeReadings(updates)
	go_func_utils.SafeGoWG(p.logger, &p.wg, func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-updates:
				p.PublishReading(update)
			}
		}
	})
}

// PublishReading publishes one update. Failures are logged.
func (p *Publisher) PublishReading(update sensor.ReadingUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		p.logger.Printf("MQTT: marshal reading for %s: %v", update.Key, err)
		return
	}
	if err := p.publish(p.cfg.ReadingTopic(update.Key), p.cfg.QoS, data); err != nil {
		p.logger.Printf("MQTT: %v", err)
	}
}

func (p *Publisher) publish(topic string, qos byte, payload []byte) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("publish %s: not connected", topic)
	}
	token := p.client.Publish(topic, qos, true, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("publish %s: timeout after %v", topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close stops forwarding, announces the bridge offline and disconnects.
func (p *Publisher) Close() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	if p.client.IsConnected() {
		if err := p.publish(p.cfg.StatusTopic(), 1, statusPayload("offline", p.cfg.ClientID, "graceful_shutdown")); err != nil {
			p.logger.Printf("MQTT: %v", err)
		}
	}
	p.client.Disconnect(disconnectQuiesce)
	p.logger.Printf("MQTT: disconnected")
}
