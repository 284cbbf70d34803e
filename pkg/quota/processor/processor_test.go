package processor

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/goquota/internal/testutil"
	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/metrics"
	"github.com/vnykmshr/goquota/pkg/quota"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func mustRule(t *testing.T, period string, limit float64) quota.Rule {
	t.Helper()
	rule, err := quota.Rule{Endpoint: "*", Period: period, Limit: limit}.Resolved()
	testutil.AssertNoError(t, err)
	return rule
}

func newInMemory(t *testing.T, config Config) Processor {
	t.Helper()
	p, err := New(InMemory, config)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"":                  InMemory,
		"in_memory":         InMemory,
		"distributed_cache": DistributedCache,
		"redis":             DistributedCache,
		"atomic_backend":    AtomicBackend,
	}
	for in, want := range tests {
		got, err := ParseKind(in)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, got, want)
		testutil.AssertEqual(t, got.String() != "unknown", true)
	}

	_, err := ParseKind("carrier-pigeon")
	testutil.AssertErrorIs(t, err, gqerrors.ErrInvalidConfiguration)
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		cfg  Config
	}{
		{"distributed cache without backend", DistributedCache, Config{}},
		{"atomic without redis", AtomicBackend, Config{}},
		{"unknown kind", Kind(42), Config{}},
		{"negative timeout", InMemory, Config{Timeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.kind, tt.cfg)
			testutil.AssertErrorIs(t, err, gqerrors.ErrInvalidConfiguration)
			if p != nil {
				t.Error("expected nil processor on error")
			}
		})
	}
}

func TestLockingProcessConcurrent(t *testing.T) {
	p := newInMemory(t, Config{})
	rule := mustRule(t, "1h", 1000)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	const n = 200
	var wg sync.WaitGroup
	seen := make(chan float64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Process(ctx, "shared", rule)
			if err != nil {
				t.Errorf("process: %v", err)
				return
			}
			seen <- c.Count
		}()
	}
	wg.Wait()
	close(seen)

	counts := make(map[float64]bool, n)
	for c := range seen {
		if counts[c] {
			t.Fatalf("count %v returned twice", c)
		}
		counts[c] = true
	}
	testutil.AssertEqual(t, len(counts), n)

	c, ok, err := p.Peek(ctx, "shared", rule)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, c.Count, float64(n))
}

func TestLockingWindowRollover(t *testing.T) {
	clock := testutil.NewMockClock(epoch.Add(7 * time.Second))
	p := newInMemory(t, Config{Clock: clock})
	rule := mustRule(t, "10s", 5)
	ctx := context.Background()

	first, err := p.Process(ctx, "k", rule)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, first.Count, 1.0)
	testutil.AssertEqual(t, first.Timestamp, epoch.Add(7*time.Second))

	clock.Advance(10 * time.Second)
	second, err := p.Process(ctx, "k", rule)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, second.Count, 2.0)
	testutil.AssertEqual(t, second.Timestamp, first.Timestamp)

	clock.Advance(time.Nanosecond)
	third, err := p.Process(ctx, "k", rule)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, third.Count, 1.0)
	testutil.AssertEqual(t, third.Timestamp, clock.Now())
}

func TestLockingPeek(t *testing.T) {
	clock := testutil.NewMockClock(epoch)
	p := newInMemory(t, Config{Clock: clock})
	rule := mustRule(t, "1m", 5)
	ctx := context.Background()

	c, ok, err := p.Peek(ctx, "k", rule)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, false)
	testutil.AssertEqual(t, c.Count, 0.0)

	_, err = p.Process(ctx, "k", rule)
	testutil.AssertNoError(t, err)

	c, ok, err = p.Peek(ctx, "k", rule)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, c.Count, 1.0)

	clock.Advance(2 * time.Minute)
	_, ok, err = p.Peek(ctx, "k", rule)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, false)
}

func TestIncrementer(t *testing.T) {
	ctx := context.Background()
	rule := mustRule(t, "1m", 5)

	weighted := newInMemory(t, Config{Incrementer: func() float64 { return 0.5 }})
	var last quota.Counter
	for i := 0; i < 3; i++ {
		var err error
		last, err = weighted.Process(ctx, "k", rule)
		testutil.AssertNoError(t, err)
	}
	testutil.AssertEqual(t, last.Count, 1.5)

	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		v := bad
		p := newInMemory(t, Config{Incrementer: func() float64 { return v }})
		_, err := p.Process(ctx, "k", rule)
		testutil.AssertErrorIs(t, err, gqerrors.ErrInvalidConfiguration)
	}
}

func TestProcessInvalidPeriod(t *testing.T) {
	p := newInMemory(t, Config{})
	_, err := p.Process(context.Background(), "k", quota.Rule{Endpoint: "*", Period: "1y", Limit: 1})
	testutil.AssertErrorIs(t, err, gqerrors.ErrInvalidConfiguration)
}

func TestProcessCanceledContext(t *testing.T) {
	p := newInMemory(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, "k", mustRule(t, "1s", 1))
	testutil.AssertErrorIs(t, err, context.Canceled)
}

func TestProcessMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := newInMemory(t, Config{Name: "api", Metrics: metrics.Config{Enabled: true, Registry: reg}})

	for i := 0; i < 3; i++ {
		_, err := p.Process(context.Background(), "k", mustRule(t, "1s", 10))
		testutil.AssertNoError(t, err)
	}

	n, err := promtestutil.GatherAndCount(reg, "goquota_processor_duration_seconds", "goquota_processor_lock_wait_seconds")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, n, 2)
}
