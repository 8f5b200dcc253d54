// Package publisher delivers normalized telemetry records to a message
// broker. Every Publish call owns its connection: it connects, sends one
// message and releases the connection before returning.
package publisher

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"my/fronius_publisher/internal/telemetry"
)

// Supported broker types.
const (
	TypeMQTT   = "mqtt"
	TypeKafka  = "kafka"
	TypeStdout = "stdout"
)

// Publisher sends a record once. Delivery is at most once.
type Publisher interface {
	Publish(ctx context.Context, rec telemetry.Record) error
}

// Options configures a broker backend.
type Options struct {
	Type           string
	Address        string
	Port           int
	Topic          string
	ClientID       string
	ConnectTimeout time.Duration
	Out            io.Writer // stdout backend only; nil means os.Stdout
}

// HostPort returns address:port.
func (o Options) HostPort() string {
	return net.JoinHostPort(o.Address, strconv.Itoa(o.Port))
}

// FailureKind classifies why a publish failed.
type FailureKind string

const (
	KindConnect  FailureKind = "connect-error"
	KindRejected FailureKind = "broker-reject"
	KindEncode   FailureKind = "encode-error"
)

// PublishError is returned by every backend when a record was not delivered.
type PublishError struct {
	Backend string
	Kind    FailureKind
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish via %s: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// New returns the backend selected by opts.Type.
func New(opts Options, logger zerolog.Logger) (Publisher, error) {
	switch opts.Type {
	case TypeMQTT, "":
		return NewMQTTPublisher(opts, logger), nil
	case TypeKafka:
		return NewKafkaPublisher(opts, logger), nil
	case TypeStdout:
		return NewWriterPublisher(opts.Out), nil
	default:
		return nil, errors.Errorf("unknown broker type %q", opts.Type)
	}
}

func encode(backend string, rec telemetry.Record) ([]byte, error) {
	payload, err := rec.Marshal()
	if err != nil {
		return nil, &PublishError{Backend: backend, Kind: KindEncode, Err: errors.Wrap(err, "marshal record")}
	}

	return payload, nil
}
