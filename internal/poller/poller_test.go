package poller

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"my/fronius_publisher/internal/fronius"
	"my/fronius_publisher/internal/metrics"
	"my/fronius_publisher/internal/publisher"
	"my/fronius_publisher/internal/telemetry"
)

// MockFetcher is a testify mock for Fetcher.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchAll(ctx context.Context) (fronius.Payloads, error) {
	args := m.Called(ctx)
	return args.Get(0).(fronius.Payloads), args.Error(1)
}

// MockPublisher is a testify mock for publisher.Publisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, rec telemetry.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func site(generation, load float64) map[string]any {
	return map[string]any{"Body": map[string]any{"Data": map[string]any{"Site": map[string]any{
		"P_PV": generation, "P_Load": load,
	}}}}
}

var start = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

func allFailed() error {
	return errors.Join(
		&fronius.FetchError{Endpoint: fronius.PowerFlow, Kind: fronius.KindUnreachable, Err: errors.New("connection refused")},
		&fronius.FetchError{Endpoint: fronius.InverterCommon, Kind: fronius.KindHTTPStatus, Status: http.StatusServiceUnavailable},
		&fronius.FetchError{Endpoint: fronius.Meter, Kind: fronius.KindMalformedBody, Err: errors.New("unexpected EOF")},
	)
}

func TestCycle_Success(t *testing.T) {
	fetcher := new(MockFetcher)
	pub := new(MockPublisher)
	clock := clockwork.NewFakeClockAt(start)

	fetcher.On("FetchAll", mock.Anything).Return(fronius.Payloads{PowerFlow: site(500, 300)}, nil)
	pub.On("Publish", mock.Anything, mock.AnythingOfType("telemetry.Record")).Return(nil)

	p := New(fetcher, pub, time.Second, zerolog.Nop(), WithClock(clock))

	rec, err := p.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, start.Unix(), rec.TimeCollected)
	assert.InDelta(t, 200.0, rec.PVImport, 1e-9)
	assert.InDelta(t, -200.0, rec.PVExport, 1e-9)
	assert.Zero(t, rec.GridVoltage)

	pub.AssertCalled(t, "Publish", mock.Anything, rec)
	fetcher.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestCycle_FetchFailureSkipsPublish(t *testing.T) {
	fetcher := new(MockFetcher)
	pub := new(MockPublisher)

	fetcher.On("FetchAll", mock.Anything).Return(fronius.Payloads{}, allFailed())

	p := New(fetcher, pub, time.Second, zerolog.Nop())

	_, err := p.Cycle(context.Background())
	require.Error(t, err)

	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageFetch, ce.Stage)
	assert.Len(t, fetchFailures(err), 3)
	assert.Equal(t, "unreachable", reason(err))

	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestCycle_PartialPublishesDefaults(t *testing.T) {
	fetcher := new(MockFetcher)
	pub := new(MockPublisher)

	failure := &fronius.FetchError{Endpoint: fronius.Meter, Kind: fronius.KindHTTPStatus, Status: http.StatusServiceUnavailable}
	fetcher.On("FetchAll", mock.Anything).Return(fronius.Payloads{PowerFlow: site(1200, 800)}, errors.Join(failure))
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	p := New(fetcher, pub, time.Second, zerolog.Nop(), WithPublishPartial(true))

	rec, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1200.0, rec.PVGeneration, 1e-9)
	assert.Zero(t, rec.GridPF)
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestCycle_NormalizeFailure(t *testing.T) {
	fetcher := new(MockFetcher)
	pub := new(MockPublisher)

	fetcher.On("FetchAll", mock.Anything).Return(fronius.Payloads{PowerFlow: site(1, 1), Meter: []any{"not", "an", "object"}}, nil)

	p := New(fetcher, pub, time.Second, zerolog.Nop())

	_, err := p.Cycle(context.Background())

	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageNormalize, ce.Stage)
	assert.Equal(t, telemetry.KindInvalidDocument, reason(err))
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestCycle_PublishFailure(t *testing.T) {
	fetcher := new(MockFetcher)
	pub := new(MockPublisher)

	fetcher.On("FetchAll", mock.Anything).Return(fronius.Payloads{}, nil)
	pub.On("Publish", mock.Anything, mock.Anything).
		Return(&publisher.PublishError{Backend: "mqtt", Kind: publisher.KindConnect, Err: errors.New("connection refused")})

	p := New(fetcher, pub, time.Second, zerolog.Nop())

	_, err := p.Cycle(context.Background())

	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StagePublish, ce.Stage)
	assert.Equal(t, string(publisher.KindConnect), reason(err))
}

func TestRunCycle_RecoversPanic(t *testing.T) {
	fetcher := new(MockFetcher)
	pub := new(MockPublisher)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	fetcher.On("FetchAll", mock.Anything).Return(fronius.Payloads{}, nil)
	pub.On("Publish", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("broker client exploded")
	})

	p := New(fetcher, pub, time.Second, zerolog.Nop(), WithMetrics(m))

	var err error
	require.NotPanics(t, func() { err = p.runCycle(context.Background()) })

	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageUnexpected, ce.Stage)
	assert.Contains(t, err.Error(), "broker client exploded")

	n, err := testutil.GatherAndCount(reg, "fronius_publisher_stage_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// runPoller starts Run in the background and returns a channel that
// receives once per FetchAll call.
func runPoller(t *testing.T, p *Poller, fetcher *MockFetcher) (<-chan struct{}, context.CancelFunc) {
	t.Helper()

	fetched := make(chan struct{}, 16)
	for _, c := range fetcher.ExpectedCalls {
		c.Run(func(mock.Arguments) { fetched <- struct{}{} })
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		assert.NoError(t, p.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})

	return fetched, cancel
}

func waitFetch(t *testing.T, fetched <-chan struct{}) {
	t.Helper()

	select {
	case <-fetched:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a cycle")
	}
}

func TestRun_FailedCyclesRetryAfterOneInterval(t *testing.T) {
	const interval = 5 * time.Second

	fetcher := new(MockFetcher)
	pub := new(MockPublisher)
	clock := clockwork.NewFakeClockAt(start)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	fetcher.On("FetchAll", mock.Anything).Return(fronius.Payloads{}, allFailed())

	p := New(fetcher, pub, interval, zerolog.Nop(), WithClock(clock), WithMetrics(m))
	fetched, _ := runPoller(t, p, fetcher)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// first cycle runs immediately
	waitFetch(t, fetched)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	fetcher.AssertNumberOfCalls(t, "FetchAll", 1)

	// nothing happens before the interval has fully elapsed
	clock.Advance(interval - time.Millisecond)
	fetcher.AssertNumberOfCalls(t, "FetchAll", 1)

	clock.Advance(time.Millisecond)
	waitFetch(t, fetched)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	fetcher.AssertNumberOfCalls(t, "FetchAll", 2)

	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)

	n, err := testutil.GatherAndCount(reg, "fronius_publisher_cycles_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_TimestampsIncrease(t *testing.T) {
	const interval = 5 * time.Second

	fetcher := new(MockFetcher)
	pub := new(MockPublisher)
	clock := clockwork.NewFakeClockAt(start)

	var published []telemetry.Record

	fetcher.On("FetchAll", mock.Anything).Return(fronius.Payloads{PowerFlow: site(500, 300)}, nil)
	pub.On("Publish", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		published = append(published, args.Get(1).(telemetry.Record))
	}).Return(nil)

	p := New(fetcher, pub, interval, zerolog.Nop(), WithClock(clock))
	fetched, cancel := runPoller(t, p, fetcher)

	ctx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()

	for i := 0; i < 3; i++ {
		waitFetch(t, fetched)
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(interval)
	}

	waitFetch(t, fetched)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	cancel()

	require.Len(t, published, 4)
	for i := 1; i < len(published); i++ {
		assert.Greater(t, published[i].TimeCollected, published[i-1].TimeCollected)
		assert.Equal(t, int64(interval/time.Second), published[i].TimeCollected-published[i-1].TimeCollected)
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	p := New(new(MockFetcher), new(MockPublisher), 0, zerolog.Nop())
	assert.Equal(t, DefaultInterval, p.interval)
}
