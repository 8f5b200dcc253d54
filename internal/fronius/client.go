// Package fronius reads realtime data from a Fronius Data Manager through
// its Solar API v1.
package fronius

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Endpoint is one Solar API resource. Path may carry a query string.
type Endpoint struct {
	Name string
	Path string
}

// The three resources polled every cycle.
var (
	PowerFlow = Endpoint{
		Name: "powerflow",
		Path: "/solar_api/v1/GetPowerFlowRealtimeData.fcgi",
	}
	InverterCommon = Endpoint{
		Name: "inverter",
		Path: "/solar_api/v1/GetInverterRealtimeData.cgi?Scope=Device&DeviceId=1&DataCollection=CommonInverterData",
	}
	Meter = Endpoint{
		Name: "meter",
		Path: "/solar_api/v1/GetMeterRealtimeData.cgi?Scope=Device&DeviceId=0",
	}
)

// Source is the device being polled.
type Source struct {
	Address   string
	PowerFlow Endpoint
	Inverter  Endpoint
	Meter     Endpoint
}

// NewSource returns a Source for address using the standard endpoints.
func NewSource(address string) Source {
	return Source{
		Address:   address,
		PowerFlow: PowerFlow,
		Inverter:  InverterCommon,
		Meter:     Meter,
	}
}

// URL builds the request URL for ep.
func (s Source) URL(ep Endpoint) string {
	return fmt.Sprintf("http://%s%s", s.Address, ep.Path)
}

// Payloads holds the decoded bodies of one cycle. A field is nil when its
// fetch failed.
type Payloads struct {
	PowerFlow any
	Inverter  any
	Meter     any
}

// Client fetches Solar API documents. It makes a single attempt per call.
type Client struct {
	source Source
	http   *http.Client
	logger zerolog.Logger
}

// NewClient returns a Client for source. A zero timeout leaves the
// http.Client default in place.
func NewClient(source Source, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		source: source,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "fronius").Str("device", source.Address).Logger(),
	}
}

// Fetch GETs ep and decodes its JSON body. Any failure is returned as a
// *FetchError.
func (c *Client) Fetch(ctx context.Context, ep Endpoint) (any, error) {
	url := c.source.URL(ep)
	c.logger.Debug().Str("endpoint", ep.Name).Str("url", url).Msg("Fetching data from Fronius API")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, &FetchError{Endpoint: ep, Kind: KindUnreachable, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Endpoint: ep, Kind: KindUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Str("endpoint", ep.Name).
			Int("status", resp.StatusCode).
			Msg("Failed to retrieve data from Fronius API")

		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, &FetchError{Endpoint: ep, Kind: KindHTTPStatus, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Endpoint: ep, Kind: KindUnreachable, Err: err}
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &FetchError{Endpoint: ep, Kind: KindMalformedBody, Err: err}
	}

	return payload, nil
}

// FetchAll fetches the three endpoints one after another. It always tries
// all of them and returns every failure joined together.
func (c *Client) FetchAll(ctx context.Context) (Payloads, error) {
	var (
		p    Payloads
		errs []error
		err  error
	)

	if p.PowerFlow, err = c.Fetch(ctx, c.source.PowerFlow); err != nil {
		errs = append(errs, err)
	}

	if p.Inverter, err = c.Fetch(ctx, c.source.Inverter); err != nil {
		errs = append(errs, err)
	}

	if p.Meter, err = c.Fetch(ctx, c.source.Meter); err != nil {
		errs = append(errs, err)
	}

	return p, errors.Join(errs...)
}
