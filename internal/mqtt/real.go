package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	QoS        byte // for events and telemetry; system events always use QoS 1
	BufferSize int  // offline ring buffer capacity; 0 disables buffering

	// OnCommand is called for every message on TopicCommand.
	OnCommand CommandHandler
	// OnConnectionChange is called with the new state on connect and on loss.
	OnConnectionChange func(connected bool)
}

var (
	_ Publisher        = (*RealPublisher)(nil)
	_ ConnectionStatus = (*RealPublisher)(nil)
)

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
	opts   Options
	log    zerolog.Logger

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	lost      bool
}

// NewRealPublisher creates a publisher and starts connecting to the broker
// in the background.
func NewRealPublisher(o Options, logger zerolog.Logger) (*RealPublisher, error) {
	if o.Broker == "" {
		return nil, fmt.Errorf("mqtt: no broker configured")
	}
	p := &RealPublisher{opts: o, log: logger}
	if o.BufferSize > 0 {
		p.buf = newRingBuffer(o.BufferSize, logger)
	}

	p.client = paho.NewClient(p.clientOptions())
	// With connect retry enabled the token completes only once the broker is
	// reachable; until then messages go to the offline buffer.
	p.client.Connect()

	return p, nil
}

// clientOptions configures paho. The OFFLINE will is retained like the other
// lifecycle events so late subscribers see it after a crash.
func (p *RealPublisher) clientOptions() *paho.ClientOptions {
	o := p.opts
	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "CONNECTION_LOST"})
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetConnectTimeout(connectTimeout).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.handleDisconnect(err) })
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	return opts
}

func (p *RealPublisher) handleConnect() {
	p.mu.Lock()
	p.connected = true
	reconnected := p.lost
	p.lost = false
	var pending []bufferedMsg
	var dropped int
	if p.buf != nil {
		pending, dropped = p.buf.drainAll()
	}
	p.mu.Unlock()

	p.log.Info().Str("broker", p.opts.Broker).Bool("reconnected", reconnected).Msg("mqtt connected")
	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(true)
	}

	if p.opts.OnCommand != nil {
		p.client.Subscribe(TopicCommand, 1, p.handleCommand)
	}

	if reconnected {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		p.client.Publish(TopicSystem, 1, false, payload)
	}
	if len(pending) > 0 || dropped > 0 {
		p.log.Info().Int("messages", len(pending)).Int("dropped", dropped).Msg("flushing offline buffer")
	}
	for _, m := range pending {
		token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			p.log.Warn().Err(token.Error()).Str("topic", m.topic).Msg("replay failed")
		}
	}
}

func (p *RealPublisher) handleDisconnect(err error) {
	p.mu.Lock()
	p.connected = false
	p.lost = true
	p.mu.Unlock()

	p.log.Warn().Err(err).Msg("mqtt connection lost")
	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(false)
	}
}

func (p *RealPublisher) handleCommand(_ paho.Client, msg paho.Message) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("command handler panic recovered")
		}
	}()
	if err := p.opts.OnCommand(msg.Payload()); err != nil {
		p.log.Warn().Err(err).Str("payload", string(msg.Payload())).Msg("command rejected")
		return
	}
	p.log.Info().Str("payload", string(msg.Payload())).Msg("command applied")
}

// send publishes or, while disconnected, buffers the message.
func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.connected {
		defer p.mu.Unlock()
		if p.buf == nil {
			return ErrNotConnected
		}
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Publish sends a run event to the MQTT broker.
func (p *RealPublisher) Publish(event RunEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.send(TopicEvents, p.opts.QoS, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.send(TopicSystem, 1, event.Retained, payload)
}

// PublishTelemetry sends one pump current sample to the MQTT broker.
func (p *RealPublisher) PublishTelemetry(entry logic.HistoryEntry) error {
	payload, err := FormatTelemetryPayload(entry)
	if err != nil {
		return fmt.Errorf("format telemetry payload: %w", err)
	}
	return p.send(TopicTelemetry, p.opts.QoS, false, payload)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	if p.opts.OnCommand != nil && p.IsConnected() {
		p.client.Unsubscribe(TopicCommand).WaitTimeout(time.Second)
	}
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
