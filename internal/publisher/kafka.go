package publisher

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"my/fronius_publisher/internal/telemetry"
)

const backendKafka = "kafka"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each record as one message keyed by sensor ID.
type KafkaPublisher struct {
	opts      Options
	logger    zerolog.Logger
	newWriter func() messageWriter
}

// NewKafkaPublisher returns a publisher for the broker at opts.Address:opts.Port.
func NewKafkaPublisher(opts Options, logger zerolog.Logger) *KafkaPublisher {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}

	p := &KafkaPublisher{
		opts:   opts,
		logger: logger.With().Str("component", "kafka").Str("broker", opts.HostPort()).Logger(),
	}

	p.newWriter = func() messageWriter {
		return &kafka.Writer{
			Addr:         kafka.TCP(opts.HostPort()),
			Topic:        opts.Topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: opts.ConnectTimeout,
			MaxAttempts:  1,
			Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				p.logger.Debug().Msgf(msg, args...)
			}),
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				p.logger.Error().Msgf(msg, args...)
			}),
		}
	}

	return p
}

// Publish opens a writer, sends rec and closes the writer.
func (p *KafkaPublisher) Publish(ctx context.Context, rec telemetry.Record) error {
	payload, err := encode(backendKafka, rec)
	if err != nil {
		return err
	}

	w := p.newWriter()
	defer func() {
		if cerr := w.Close(); cerr != nil {
			p.logger.Warn().Err(cerr).Msg("Failed to close Kafka writer")
		}
	}()

	writeCtx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(strconv.Itoa(rec.SensorID)),
		Value: payload,
		Time:  time.Unix(rec.TimeCollected, 0),
	}

	if err := w.WriteMessages(writeCtx, msg); err != nil {
		return &PublishError{Backend: backendKafka, Kind: classifyKafka(err), Err: errors.Wrapf(err, "write to %s", p.opts.Topic)}
	}

	p.logger.Debug().Str("topic", p.opts.Topic).Int("bytes", len(payload)).Msg("Published record")

	return nil
}

func classifyKafka(err error) FailureKind {
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return KindRejected
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnect
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnect
	}

	return KindRejected
}
