package config

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/metrics"
	"github.com/vnykmshr/goquota/pkg/quota"
)

// DefaultReloadSchedule is used when neither the watcher config nor the
// file names a schedule.
const DefaultReloadSchedule = "@every 30s"

var scheduleParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// PolicyTarget receives reloaded policies. *engine.Engine implements it.
type PolicyTarget interface {
	SetPolicy(ctx context.Context, policy quota.Policy) error
	RemovePolicy(ctx context.Context, subject string) error
}

// WatcherConfig holds configuration for creating a Watcher.
type WatcherConfig struct {
	// Schedule overrides the file's reload_schedule.
	Schedule string

	// Timeout bounds one reload. Zero means no bound.
	Timeout time.Duration

	Logger  *zap.Logger
	Metrics metrics.Config
}

// Watcher periodically re-reads a config file and applies its policies:
// subjects present in the file are set, subjects dropped from the file
// since the previous reload are removed.
type Watcher struct {
	path     string
	target   PolicyTarget
	schedule cron.Schedule
	timeout  time.Duration
	logger   *zap.Logger
	registry *metrics.Registry

	mu      sync.Mutex
	applied map[string]struct{}

	cron    *cron.Cron
	started bool
}

// NewWatcher creates a Watcher for the file at path. The schedule comes
// from config.Schedule, else the file, else DefaultReloadSchedule.
func NewWatcher(path string, target PolicyTarget, config WatcherConfig) (*Watcher, error) {
	if target == nil {
		return nil, gqerrors.NewValidationError("config", "target", nil, "cannot be nil")
	}

	expr := config.Schedule
	if expr == "" {
		f, err := Load(path)
		if err != nil {
			return nil, err
		}
		expr = f.ReloadSchedule
	}
	if expr == "" {
		expr = DefaultReloadSchedule
	}
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, gqerrors.NewValidationError("config", "reload_schedule", expr, err.Error()).
			WithHint(`use a descriptor such as "@every 30s"`)
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     path,
		target:   target,
		schedule: schedule,
		timeout:  config.Timeout,
		logger:   logger.With(zap.String("config", path)),
		registry: metrics.Resolve(config.Metrics),
		applied:  make(map[string]struct{}),
	}, nil
}

// Start applies the file once and then on every scheduled tick.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.cron = cron.New(cron.WithParser(scheduleParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	w.cron.Schedule(w.schedule, cron.FuncJob(func() {
		_ = w.Reload(context.Background())
	}))
	w.mu.Unlock()

	err := w.Reload(context.Background())
	w.cron.Start()
	return err
}

// Stop halts the schedule and waits for a running reload to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.started = false
	w.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Reload reads the file and applies its policies. On a read or
// validation error nothing is applied.
func (w *Watcher) Reload(ctx context.Context) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	f, err := Load(w.path)
	if err != nil {
		w.record("error")
		w.logger.Error("config reload failed", zap.Error(err))
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]struct{}, len(f.Policies))
	for _, policy := range f.Policies {
		if err := w.target.SetPolicy(ctx, policy); err != nil {
			w.record("error")
			w.logger.Error("policy reload failed", zap.String("subject", policy.Subject), zap.Error(err))
			return err
		}
		seen[policy.Subject] = struct{}{}
		w.applied[policy.Subject] = struct{}{}
	}

	removed := 0
	for subject := range w.applied {
		if _, ok := seen[subject]; ok {
			continue
		}
		if err := w.target.RemovePolicy(ctx, subject); err != nil {
			w.record("error")
			w.logger.Error("policy removal failed", zap.String("subject", subject), zap.Error(err))
			return err
		}
		delete(w.applied, subject)
		removed++
	}

	w.record("success")
	w.logger.Info("config reloaded", zap.Int("policies", len(f.Policies)), zap.Int("removed", removed))
	return nil
}

func (w *Watcher) record(result string) {
	if w.registry != nil {
		w.registry.ConfigReloads.WithLabelValues(result).Inc()
	}
}
