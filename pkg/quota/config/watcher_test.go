package config

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vnykmshr/goquota/internal/testutil"
	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/metrics"
	"github.com/vnykmshr/goquota/pkg/quota"
	"github.com/vnykmshr/goquota/pkg/quota/engine"
)

type recordingTarget struct {
	mu       sync.Mutex
	policies map[string]quota.Policy
}

func newRecordingTarget() *recordingTarget {
	return &recordingTarget{policies: make(map[string]quota.Policy)}
}

func (r *recordingTarget) SetPolicy(_ context.Context, p quota.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Subject] = p
	return nil
}

func (r *recordingTarget) RemovePolicy(_ context.Context, subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.policies, subject)
	return nil
}

func (r *recordingTarget) subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.policies))
	for s := range r.policies {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

const twoPolicies = `
policies:
  - subject: alpha
    rules: [{endpoint: "*", period: 1m, limit: 10}]
  - subject: beta
    rules: [{endpoint: "*", period: 1m, limit: 20}]
`

const onePolicy = `
policies:
  - subject: beta
    rules: [{endpoint: "*", period: 1m, limit: 25}]
`

func TestWatcherReload(t *testing.T) {
	path := writeFile(t, twoPolicies)
	reg := prometheus.NewRegistry()
	target := newRecordingTarget()

	w, err := NewWatcher(path, target, WatcherConfig{
		Schedule: "@every 1h",
		Metrics:  metrics.Config{Enabled: true, Registry: reg},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Reload(ctx))
	assert.Equal(t, []string{"alpha", "beta"}, target.subjects())

	require.NoError(t, os.WriteFile(path, []byte(onePolicy), 0o600))
	require.NoError(t, w.Reload(ctx))
	assert.Equal(t, []string{"beta"}, target.subjects())
	assert.Equal(t, 25.0, target.policies["beta"].Rules[0].Limit)

	// A broken file leaves the applied policies alone.
	require.NoError(t, os.WriteFile(path, []byte("policies: ["), 0o600))
	assert.ErrorIs(t, w.Reload(ctx), gqerrors.ErrInvalidConfiguration)
	assert.Equal(t, []string{"beta"}, target.subjects())

	r := metrics.Resolve(metrics.Config{Enabled: true, Registry: reg})
	assert.Equal(t, 2.0, promtestutil.ToFloat64(r.ConfigReloads.WithLabelValues("success")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(r.ConfigReloads.WithLabelValues("error")))
}

func TestWatcherKeepsRuntimePolicies(t *testing.T) {
	path := writeFile(t, twoPolicies)
	target := newRecordingTarget()
	require.NoError(t, target.SetPolicy(context.Background(), quota.Policy{Subject: "runtime"}))

	w, err := NewWatcher(path, target, WatcherConfig{Schedule: "@every 1h"})
	require.NoError(t, err)
	require.NoError(t, w.Reload(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte(onePolicy), 0o600))
	require.NoError(t, w.Reload(context.Background()))
	assert.Equal(t, []string{"beta", "runtime"}, target.subjects())
}

func TestWatcherSchedule(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := writeFile(t, twoPolicies)
	target := newRecordingTarget()
	w, err := NewWatcher(path, target, WatcherConfig{Schedule: "@every 1s"})
	require.NoError(t, err)

	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	assert.Equal(t, []string{"alpha", "beta"}, target.subjects())

	require.NoError(t, os.WriteFile(path, []byte(onePolicy), 0o600))
	testutil.Eventually(t, func() bool {
		return len(target.subjects()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	w.Stop()
	w.Stop()
}

func TestWatcherScheduleFromFile(t *testing.T) {
	path := writeFile(t, "reload_schedule: '@every 5m'\n")
	w, err := NewWatcher(path, newRecordingTarget(), WatcherConfig{})
	require.NoError(t, err)
	assert.NotNil(t, w.schedule)

	_, err = NewWatcher(path, newRecordingTarget(), WatcherConfig{Schedule: "sometimes"})
	assert.ErrorIs(t, err, gqerrors.ErrInvalidConfiguration)

	_, err = NewWatcher(path, nil, WatcherConfig{})
	assert.ErrorIs(t, err, gqerrors.ErrInvalidConfiguration)
}

func TestWatcherDrivesEngine(t *testing.T) {
	path := writeFile(t, twoPolicies)
	f, err := Load(path)
	require.NoError(t, err)
	cfg, err := f.EngineConfig(nil)
	require.NoError(t, err)

	e, err := engine.New(cfg)
	require.NoError(t, err)
	defer e.Close()

	w, err := NewWatcher(path, e, WatcherConfig{Schedule: "@every 1h"})
	require.NoError(t, err)
	require.NoError(t, w.Reload(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte(onePolicy), 0o600))
	require.NoError(t, w.Reload(context.Background()))
	subjects, err := e.PolicySubjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, subjects)

	rules, err := e.Resolve(context.Background(), quota.NewIdentity("beta", "", "GET", "/"))
	require.NoError(t, err)
	assert.Equal(t, 25.0, rules[0].Limit)
}
