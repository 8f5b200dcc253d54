package publisher

import (
	"context"
	"io"
	"os"

	"my/fronius_publisher/internal/telemetry"
)

const backendWriter = "stdout"

// WriterPublisher prints each record as a JSON line. Used for dry runs.
type WriterPublisher struct {
	out io.Writer
}

// NewWriterPublisher writes to out, or stdout when out is nil.
func NewWriterPublisher(out io.Writer) *WriterPublisher {
	if out == nil {
		out = os.Stdout
	}

	return &WriterPublisher{out: out}
}

func (p *WriterPublisher) Publish(_ context.Context, rec telemetry.Record) error {
	payload, err := encode(backendWriter, rec)
	if err != nil {
		return err
	}

	if _, err := p.out.Write(append(payload, '\n')); err != nil {
		return &PublishError{Backend: backendWriter, Kind: KindRejected, Err: err}
	}

	return nil
}
