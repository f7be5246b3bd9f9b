// Package telemetry publishes decoded packets and discovery results to an
// MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/ottdwire/ottdwire/internal/config"
	"github.com/ottdwire/ottdwire/internal/events"
	"github.com/ottdwire/ottdwire/internal/util"
)

// Topic suffixes below the configured prefix.
const (
	TopicStatus      = "status"
	TopicPackets     = "packets"
	TopicFailures    = "failures"
	TopicDiscovered  = "servers/discovered"
	TopicUnreachable = "servers/unreachable"
)

const disconnectQuiesceMs = 5000

// published event types and the topic each is sent to
var eventTopics = map[events.EventType]func(events.Event) string{
	events.EventUDPPacket:         packetTopic,
	events.EventCoordinatorPacket: packetTopic,
	events.EventDecodeFailed:      failureTopic,
	events.EventServerDiscovered:  func(events.Event) string { return TopicDiscovered },
	events.EventQueryTimeout:      func(events.Event) string { return TopicUnreachable },
}

// Publisher forwards bus events to MQTT as JSON messages.
type Publisher struct {
	mu sync.Mutex

	cfg    config.MQTTConfig
	bus    *events.EventBus
	client mqtt.Client
	logger zerolog.Logger

	// metadata is included in every message
	metadata map[string]any
}

// NewPublisher creates a publisher for cfg. It fails when MQTT is disabled.
func NewPublisher(cfg config.MQTTConfig, bus *events.EventBus) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	p := newPublisher(cfg, bus, nil)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("ottdwire-%v", p.metadata["hostname"]))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if u, err := url.Parse(cfg.Broker); err == nil {
		switch u.Scheme {
		case "ssl", "tls", "mqtts", "tcps":
			opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
		}
	}

	offline, _ := json.Marshal(p.statusMessage(false))
	opts.SetWill(p.topic(TopicStatus), string(offline), byte(cfg.QoS), true)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

func newPublisher(cfg config.MQTTConfig, bus *events.EventBus, client mqtt.Client) *Publisher {
	sysInfo := util.GetSystemInfo()
	return &Publisher{
		cfg:    cfg,
		bus:    bus,
		client: client,
		logger: util.ComponentLogger("mqtt"),
		metadata: map[string]any{
			"hostname":  sysInfo.Hostname,
			"os":        sysInfo.OS,
			"cpu_model": sysInfo.CPUModel,
			"cpu_cores": sysInfo.CPUCores,
			"memory_mb": sysInfo.TotalMemory,
		},
	}
}

// Start connects, publishes until ctx is cancelled and then disconnects.
func (p *Publisher) Start(ctx context.Context) error {
	if err := p.Connect(); err != nil {
		return err
	}
	<-ctx.Done()
	p.Close()
	return nil
}

// Connect connects to the broker, announces this instance as online and
// subscribes to the bus.
func (p *Publisher) Connect() error {
	p.logger.Info().Str("broker", p.cfg.Broker).Msg("connecting to MQTT broker")

	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	p.publish(TopicStatus, p.statusMessage(true), true)

	for typ := range eventTopics {
		p.bus.Subscribe(typ, handlerName(typ), p.onEvent)
	}
	return nil
}

// Close unsubscribes from the bus, announces this instance as offline and
// disconnects.
func (p *Publisher) Close() {
	for typ := range eventTopics {
		p.bus.Unsubscribe(typ, handlerName(typ))
	}
	p.publish(TopicStatus, p.statusMessage(false), true)
	p.client.Disconnect(disconnectQuiesceMs)
	p.logger.Info().Msg("MQTT disconnected")
}

func handlerName(typ events.EventType) string { return "mqtt." + string(typ) }

func (p *Publisher) onEvent(_ context.Context, ev events.Event) error {
	route, ok := eventTopics[ev.Type]
	if !ok {
		return nil
	}
	p.publish(route(ev), p.message(ev), false)
	return nil
}

// Topic returns the full topic an event is published to, or "" for events
// that are not published.
func (p *Publisher) Topic(ev events.Event) string {
	route, ok := eventTopics[ev.Type]
	if !ok {
		return ""
	}
	return p.topic(route(ev))
}

func (p *Publisher) topic(suffix string) string {
	prefix := strings.TrimSuffix(p.cfg.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

func packetTopic(ev events.Event) string {
	pp, ok := ev.Payload.(events.PacketPayload)
	if !ok {
		return TopicPackets
	}
	return TopicPackets + "/" + pp.Family.String() + "/" + strings.ToLower(pp.PacketType)
}

func failureTopic(ev events.Event) string {
	fp, ok := ev.Payload.(events.DecodeFailedPayload)
	if !ok {
		return TopicFailures
	}
	return TopicFailures + "/" + fp.Family.String()
}

// publish sends msg as JSON to the topic below the prefix.
func (p *Publisher) publish(suffix string, msg map[string]any, retained bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.client.IsConnected() {
		return
	}

	topic := p.topic(suffix)
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := p.client.Publish(topic, byte(p.cfg.QoS), retained, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			p.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// message combines the metadata with one event.
func (p *Publisher) message(ev events.Event) map[string]any {
	msg := maps.Clone(p.metadata)

	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	msg["event"] = string(ev.Type)
	if ev.Source != "" {
		msg["source"] = ev.Source
	}
	msg["payload"] = ev.Payload
	msg["timestamp"] = at.UTC().Format(time.RFC3339)
	return msg
}

// statusMessage is the retained presence message of this instance.
func (p *Publisher) statusMessage(online bool) map[string]any {
	msg := maps.Clone(p.metadata)
	msg["online"] = online
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}
