package publisher

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"my/fronius_publisher/internal/telemetry"
)

const (
	backendMQTT = "mqtt"

	// milliseconds paho may spend flushing outstanding work on disconnect
	disconnectQuiesce = 250

	defaultConnectTimeout = 10 * time.Second
)

// MQTTPublisher publishes at QoS 0 to a single topic.
type MQTTPublisher struct {
	opts      Options
	logger    zerolog.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewMQTTPublisher returns a publisher for the broker at opts.Address:opts.Port.
func NewMQTTPublisher(opts Options, logger zerolog.Logger) *MQTTPublisher {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}

	return &MQTTPublisher{
		opts:      opts,
		logger:    logger.With().Str("component", "mqtt").Str("broker", opts.HostPort()).Logger(),
		newClient: mqtt.NewClient,
	}
}

func (p *MQTTPublisher) clientOptions() *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker("tcp://" + p.opts.HostPort()).
		SetClientID(p.opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(p.opts.ConnectTimeout).
		SetWriteTimeout(p.opts.ConnectTimeout)
}

// Publish connects, publishes rec to the configured topic and disconnects.
func (p *MQTTPublisher) Publish(ctx context.Context, rec telemetry.Record) error {
	payload, err := encode(backendMQTT, rec)
	if err != nil {
		return err
	}

	return p.withConnection(ctx, func(client mqtt.Client) error {
		token := client.Publish(p.opts.Topic, 0, false, payload)
		if err := p.wait(ctx, token); err != nil {
			return &PublishError{Backend: backendMQTT, Kind: KindRejected, Err: errors.Wrapf(err, "publish to %s", p.opts.Topic)}
		}

		p.logger.Debug().Str("topic", p.opts.Topic).Int("bytes", len(payload)).Msg("Published record")

		return nil
	})
}

// withConnection runs fn on a connected client. The client is disconnected
// on every return path, including a connect that timed out or was cancelled
// while paho was still handshaking in the background.
func (p *MQTTPublisher) withConnection(ctx context.Context, fn func(mqtt.Client) error) error {
	client := p.newClient(p.clientOptions())

	token := client.Connect()

	defer func() {
		client.Disconnect(disconnectQuiesce)
		p.logger.Debug().Msg("Disconnected from broker")
	}()

	if err := p.wait(ctx, token); err != nil {
		return &PublishError{Backend: backendMQTT, Kind: KindConnect, Err: errors.Wrapf(err, "connect to %s", p.opts.HostPort())}
	}

	return fn(client)
}

func (p *MQTTPublisher) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(p.opts.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.Errorf("timed out after %s", p.opts.ConnectTimeout)
	}
}
