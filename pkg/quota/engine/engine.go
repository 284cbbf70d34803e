package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/metrics"
	"github.com/vnykmshr/goquota/pkg/quota"
	"github.com/vnykmshr/goquota/pkg/quota/iprange"
	"github.com/vnykmshr/goquota/pkg/quota/processor"
	"github.com/vnykmshr/goquota/pkg/quota/store"
)

// DefaultPolicyPrefix prefixes policy store keys.
const DefaultPolicyPrefix = "crlp"

// WhitelistConfig lists identities exempt from limiting.
type WhitelistConfig struct {
	ClientIDs []string
	IPRanges  []string
	Endpoints []string
}

// Config holds configuration for creating an Engine.
type Config struct {
	// Name labels metrics and log entries.
	Name string

	// Options controls flavor, endpoint limiting and key derivation.
	Options quota.Options

	// GeneralRules apply to every identity, filling periods its own
	// policy does not cover.
	GeneralRules []quota.Rule

	// Policies are seeded into the policy store by New.
	Policies []quota.Policy

	Whitelist WhitelistConfig

	// Processor increments counters. When nil, one of ProcessorKind is
	// built from ProcessorConfig and owned by the engine.
	Processor       processor.Processor
	ProcessorKind   processor.Kind
	ProcessorConfig processor.Config

	// PolicyStore holds per-subject policies. Defaults to a memory store.
	PolicyStore  store.Store[quota.Policy]
	PolicyPrefix string

	// QuotaExceededResponse is the default block response; rules may
	// override it.
	QuotaExceededResponse quota.QuotaExceededResponse

	FailurePolicy FailurePolicy

	Clock quota.Clock

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger

	// OnViolation receives every exceeded rule, blocked or monitored.
	OnViolation func(ctx context.Context, v Violation)

	// OnBlocked receives every block decision.
	OnBlocked func(ctx context.Context, d Decision)

	Metrics metrics.Config
}

// DefaultConfig returns a client-keyed, in-memory engine configuration.
func DefaultConfig() Config {
	return Config{
		Name:          "default",
		Options:       quota.DefaultOptions(),
		ProcessorKind: processor.InMemory,
		PolicyPrefix:  DefaultPolicyPrefix,
		QuotaExceededResponse: quota.QuotaExceededResponse{
			ContentType: "text/plain",
			Content:     quota.DefaultQuotaExceededMessage,
			StatusCode:  quota.DefaultQuotaExceededStatus,
		},
		FailurePolicy: FailureReturnError,
		Clock:         quota.SystemClock{},
		Logger:        zap.NewNop(),
	}
}

// Engine decides whether requests are within quota. It is safe for
// concurrent use.
type Engine struct {
	name        string
	opts        quota.Options
	general     []quota.Rule
	whitelist   *quota.Whitelist
	resolver    *quota.Resolver
	keys        quota.KeyBuilder
	processor   processor.Processor
	policies    store.Store[quota.Policy]
	prefix      string
	response    quota.QuotaExceededResponse
	failure     FailurePolicy
	clock       quota.Clock
	logger      *zap.Logger
	onViolation func(context.Context, Violation)
	onBlocked   func(context.Context, Decision)

	registry atomic.Pointer[metrics.Registry]

	// indexMu serializes this engine's updates of the stored subject index.
	indexMu sync.Mutex

	// ranges caches parsed IP policy subjects read from the index.
	rangesMu sync.RWMutex
	ranges   map[string]iprange.Range

	closers []io.Closer
}

// New creates an Engine and seeds config.Policies.
func New(config Config) (*Engine, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	config = applyConfigDefaults(config)

	whitelist, err := quota.NewWhitelist(config.Whitelist.ClientIDs, config.Whitelist.IPRanges,
		config.Whitelist.Endpoints, config.Options.EnableRegexRuleMatching)
	if err != nil {
		return nil, err
	}

	general := make([]quota.Rule, 0, len(config.GeneralRules))
	for _, rule := range config.GeneralRules {
		resolved, err := rule.Resolved()
		if err != nil {
			return nil, fmt.Errorf("general rules: %w", err)
		}
		general = append(general, resolved)
	}

	e := &Engine{
		name:        config.Name,
		opts:        config.Options,
		general:     general,
		whitelist:   whitelist,
		resolver:    quota.NewResolver(config.Options),
		keys:        quota.NewKeyBuilder(config.Options),
		processor:   config.Processor,
		policies:    config.PolicyStore,
		prefix:      config.PolicyPrefix,
		response:    config.QuotaExceededResponse,
		failure:     config.FailurePolicy,
		clock:       config.Clock,
		logger:      config.Logger.With(zap.String("limiter", config.Name), zap.Stringer("flavor", config.Options.Flavor)),
		onViolation: config.OnViolation,
		onBlocked:   config.OnBlocked,
		ranges:      make(map[string]iprange.Range),
	}
	if config.Metrics.Enabled {
		e.registry.Store(metrics.Resolve(config.Metrics))
	}

	if e.processor == nil {
		pcfg := config.ProcessorConfig
		if pcfg.Clock == nil {
			pcfg.Clock = config.Clock
		}
		if pcfg.Name == "" {
			pcfg.Name = config.Name
		}
		if !pcfg.Metrics.Enabled {
			pcfg.Metrics = config.Metrics
		}
		p, err := processor.New(config.ProcessorKind, pcfg)
		if err != nil {
			return nil, err
		}
		e.processor = p
		e.closers = append(e.closers, p)
	}
	if e.policies == nil {
		policies, err := store.NewMemoryWithConfig[quota.Policy](store.MemoryConfig{Clock: config.Clock})
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.policies = policies
		e.closers = append(e.closers, policies)
	}

	if len(config.Policies) > 0 {
		if err := e.SeedPolicies(context.Background(), config.Policies); err != nil {
			_ = e.Close()
			return nil, err
		}
	}
	return e, nil
}

func validateConfig(config Config) error {
	if err := config.Options.Validate(); err != nil {
		return err
	}
	if config.FailurePolicy < FailureReturnError || config.FailurePolicy > FailureBlock {
		return gqerrors.NewValidationError("engine", "failure_policy", int(config.FailurePolicy), "unknown failure policy")
	}
	for i, rule := range config.GeneralRules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("general rule %d: %w", i, err)
		}
		if err := quota.ValidatePattern(rule.Endpoint, config.Options.EnableRegexRuleMatching); err != nil {
			return fmt.Errorf("general rule %d: %w", i, err)
		}
	}
	return nil
}

// validatePatterns checks rule endpoints against the engine's matching mode.
func (e *Engine) validatePatterns(rules []quota.Rule) error {
	for i, rule := range rules {
		if err := quota.ValidatePattern(rule.Endpoint, e.opts.EnableRegexRuleMatching); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

func applyConfigDefaults(config Config) Config {
	defaults := DefaultConfig()
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.Options.CounterPrefix == "" {
		config.Options.CounterPrefix = quota.DefaultCounterPrefix
	}
	if config.PolicyPrefix == "" {
		config.PolicyPrefix = defaults.PolicyPrefix
	}
	if config.QuotaExceededResponse.Content == "" {
		config.QuotaExceededResponse.Content = defaults.QuotaExceededResponse.Content
	}
	if config.QuotaExceededResponse.ContentType == "" {
		config.QuotaExceededResponse.ContentType = defaults.QuotaExceededResponse.ContentType
	}
	if config.QuotaExceededResponse.StatusCode == 0 {
		config.QuotaExceededResponse.StatusCode = defaults.QuotaExceededResponse.StatusCode
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	return config
}

// Close releases the processor and policy store the engine created.
func (e *Engine) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	return first
}

// Options returns the engine's quota options.
func (e *Engine) Options() quota.Options {
	return e.opts
}

// IsWhitelisted reports whether id bypasses limiting.
func (e *Engine) IsWhitelisted(id quota.Identity) bool {
	return e.whitelist.Contains(id)
}

// Resolve returns the ordered rules that apply to id.
func (e *Engine) Resolve(ctx context.Context, id quota.Identity) ([]quota.Rule, error) {
	policyRules, err := e.policyRules(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.resolver.Resolve(id, policyRules, e.general)
}

// ProcessRequest increments the counter for id under rule.
func (e *Engine) ProcessRequest(ctx context.Context, id quota.Identity, rule quota.Rule) (quota.Counter, error) {
	return e.processor.Process(ctx, e.keys.Build(id, rule), rule)
}

// Peek returns the counter for id under rule without incrementing it.
func (e *Engine) Peek(ctx context.Context, id quota.Identity, rule quota.Rule) (quota.Counter, error) {
	counter, _, err := e.processor.Peek(ctx, e.keys.Build(id, rule), rule)
	return counter, err
}

// ComputeRetryAfter returns the seconds until counter's window closes
// under rule, at least "1".
func (e *Engine) ComputeRetryAfter(counter quota.Counter, rule quota.Rule) string {
	rule, err := rule.Resolved()
	if err != nil {
		return "1"
	}
	return quota.RetryAfter(counter.Timestamp, rule, e.clock.Now())
}

// BuildHeaders computes the rate-limit headers for counter under rule.
func (e *Engine) BuildHeaders(counter quota.Counter, rule quota.Rule) quota.Headers {
	if resolved, err := rule.Resolved(); err == nil {
		rule = resolved
	}
	return quota.NewHeaders(rule, counter)
}

// identityError reports identities the configured flavor cannot key.
func (e *Engine) identityError(id quota.Identity) error {
	if e.opts.Flavor == quota.ByIP && !iprange.IsAddress(id.ClientIP) {
		return fmt.Errorf("%w: client ip %q", gqerrors.ErrIdentityResolution, id.ClientIP)
	}
	return nil
}

func (e *Engine) policyKey(subject string) string {
	return e.prefix + "_" + subject
}

func (e *Engine) policyRules(ctx context.Context, id quota.Identity) ([]quota.Rule, error) {
	if err := e.identityError(id); err != nil {
		return nil, err
	}

	if e.opts.Flavor != quota.ByIP {
		subject := e.opts.Subject(id)
		if subject == "" {
			return nil, nil
		}
		policy, ok, err := e.policies.Get(ctx, e.policyKey(subject))
		if err != nil || !ok {
			return nil, err
		}
		return policy.Rules, nil
	}

	subjects, err := e.subjects(ctx)
	if err != nil {
		return nil, err
	}

	var rules []quota.Rule
	for _, subject := range subjects {
		r, ok := e.parsedRange(subject)
		if !ok || !r.Contains(id.ClientIP) {
			continue
		}
		policy, ok, err := e.policies.Get(ctx, e.policyKey(subject))
		if err != nil {
			return nil, err
		}
		if ok {
			rules = append(rules, policy.Rules...)
		}
	}
	return rules, nil
}
