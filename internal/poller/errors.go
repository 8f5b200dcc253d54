package poller

import (
	"errors"
	"fmt"

	"my/fronius_publisher/internal/fronius"
	"my/fronius_publisher/internal/publisher"
	"my/fronius_publisher/internal/telemetry"
)

// Stage names the step of a cycle that failed.
type Stage string

const (
	StageFetch      Stage = "fetch"
	StageNormalize  Stage = "normalize"
	StagePublish    Stage = "publish"
	StageUnexpected Stage = "unexpected"
)

// CycleError is returned by Cycle when a cycle was abandoned.
type CycleError struct {
	Stage Stage
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// reason returns a short label for the failure, suitable for metrics.
func reason(err error) string {
	var fe *fronius.FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}

	var ne *telemetry.NormalizeError
	if errors.As(err, &ne) {
		return ne.Kind
	}

	var pe *publisher.PublishError
	if errors.As(err, &pe) {
		return string(pe.Kind)
	}

	return "unknown"
}

// fetchFailures flattens a possibly wrapped, possibly joined fetch error
// into its parts.
func fetchFailures(err error) []*fronius.FetchError {
	switch e := err.(type) {
	case nil:
		return nil
	case *fronius.FetchError:
		return []*fronius.FetchError{e}
	case interface{ Unwrap() []error }:
		var out []*fronius.FetchError
		for _, inner := range e.Unwrap() {
			out = append(out, fetchFailures(inner)...)
		}

		return out
	case interface{ Unwrap() error }:
		return fetchFailures(e.Unwrap())
	default:
		return nil
	}
}
