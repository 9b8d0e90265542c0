package player

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ScreenChange is the payload announced to display clients whenever the
// rotation moves. Halted carries the stop code when the engine cannot
// produce a screen.
type ScreenChange struct {
	Screen    string    `json:"screen"`
	VersionID int64     `json:"version_id"`
	ChangedAt time.Time `json:"changed_at"`
	Halted    string    `json:"halted,omitempty"`
}

// Emitter delivers screen changes to display clients.
type Emitter interface {
	Emit(ctx context.Context, change ScreenChange) error
	Close() error
}

// LogEmitter announces changes on the application log only. It is the
// fallback when neither Redis nor MQTT transport is configured.
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter constructs a LogEmitter.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the change.
func (e *LogEmitter) Emit(ctx context.Context, change ScreenChange) error {
	fields := []zap.Field{
		zap.String("screen", change.Screen),
		zap.Int64("version_id", change.VersionID),
		zap.Time("changed_at", change.ChangedAt),
	}
	if change.Halted != "" {
		fields = append(fields, zap.String("halted", change.Halted))
		e.logger.Warn("rotation halted", fields...)
		return nil
	}
	e.logger.Info("screen changed", fields...)
	return nil
}

// Close implements Emitter.
func (e *LogEmitter) Close() error { return nil }

type redisPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisEmitter publishes changes on a Redis channel so co-located display
// processes can subscribe without an extra broker.
type RedisEmitter struct {
	publisher redisPublisher
	channel   string
}

// NewRedisEmitter constructs a RedisEmitter.
func NewRedisEmitter(publisher redisPublisher, channel string) *RedisEmitter {
	if channel == "" {
		channel = "rotation:changes"
	}
	return &RedisEmitter{publisher: publisher, channel: channel}
}

// Emit publishes the JSON-encoded change.
func (e *RedisEmitter) Emit(ctx context.Context, change ScreenChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode screen change: %w", err)
	}
	return e.publisher.Publish(ctx, e.channel, payload)
}

// Close implements Emitter.
func (e *RedisEmitter) Close() error { return nil }

// MQTTEmitter publishes retained changes to an MQTT topic. Retained delivery
// means a display that connects mid-rotation immediately receives the
// current screen.
type MQTTEmitter struct {
	client  paho.Client
	topic   string
	qos     byte
	timeout time.Duration
}

// NewMQTTEmitter wraps an already configured paho client.
func NewMQTTEmitter(client paho.Client, topic string, qos byte, timeout time.Duration) *MQTTEmitter {
	if topic == "" {
		topic = "signage/rotation/current"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MQTTEmitter{client: client, topic: topic, qos: qos, timeout: timeout}
}

// Emit publishes the JSON-encoded change as a retained message.
func (e *MQTTEmitter) Emit(ctx context.Context, change ScreenChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode screen change: %w", err)
	}
	token := e.client.Publish(e.topic, e.qos, true, payload)
	if !token.WaitTimeout(e.timeout) {
		return fmt.Errorf("mqtt publish timeout: %s", e.topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (e *MQTTEmitter) Close() error {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(1000)
	}
	return nil
}

// FanoutEmitter delivers each change to every configured transport. A
// failing transport does not stop the others.
type FanoutEmitter struct {
	emitters []Emitter
	logger   *zap.Logger
}

// NewFanoutEmitter constructs a FanoutEmitter.
func NewFanoutEmitter(logger *zap.Logger, emitters ...Emitter) *FanoutEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FanoutEmitter{emitters: emitters, logger: logger}
}

// Emit forwards the change to all transports and reports the first failure.
func (e *FanoutEmitter) Emit(ctx context.Context, change ScreenChange) error {
	var firstErr error
	for _, emitter := range e.emitters {
		if err := emitter.Emit(ctx, change); err != nil {
			e.logger.Warn("screen change emit failed", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close closes all transports.
func (e *FanoutEmitter) Close() error {
	var firstErr error
	for _, emitter := range e.emitters {
		if err := emitter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewMQTTClient builds a paho client for the emitter with the reconnect
// behaviour a long-running kiosk deployment needs.
func NewMQTTClient(brokerURL, clientID string) paho.Client {
	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
	return paho.NewClient(opts)
}

// ConnectMQTT connects with a bounded wait.
func ConnectMQTT(client paho.Client, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connect timeout")
	}
	return token.Error()
}
