package fronius

import "fmt"

// FailureKind classifies why a fetch failed.
type FailureKind string

const (
	KindUnreachable   FailureKind = "unreachable"
	KindHTTPStatus    FailureKind = "http-error"
	KindMalformedBody FailureKind = "malformed-body"
)

// FetchError is returned by Fetch for every failed exchange with the device.
type FetchError struct {
	Endpoint Endpoint
	Kind     FailureKind
	Status   int // set for KindHTTPStatus
	Err      error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("fetch %s: device returned status %d", e.Endpoint.Name, e.Status)
	default:
		return fmt.Sprintf("fetch %s: %s: %v", e.Endpoint.Name, e.Kind, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
