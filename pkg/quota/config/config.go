package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/quota"
	"github.com/vnykmshr/goquota/pkg/quota/engine"
	"github.com/vnykmshr/goquota/pkg/quota/processor"
	"github.com/vnykmshr/goquota/pkg/quota/store"
)

// Policy store backends.
const (
	PolicyStoreMemory = "memory"
	PolicyStoreRedis  = "redis"
)

// File is the YAML representation of a limiter.
type File struct {
	Name string `yaml:"name"`

	Flavor                     string `yaml:"flavor"`
	MetadataKey                string `yaml:"metadata_key"`
	CounterPrefix              string `yaml:"counter_prefix"`
	EnableEndpointRateLimiting bool   `yaml:"enable_endpoint_rate_limiting"`
	EndpointKeyMode            string `yaml:"endpoint_key_mode"`
	StackBlockedRequests       bool   `yaml:"stack_blocked_requests"`
	EnableRegexRuleMatching    bool   `yaml:"enable_regex_rule_matching"`

	Processor     string `yaml:"processor"`
	PolicyStore   string `yaml:"policy_store"`
	PolicyPrefix  string `yaml:"policy_prefix"`
	FailurePolicy string `yaml:"failure_policy"`

	QuotaExceededResponse quota.QuotaExceededResponse `yaml:"quota_exceeded_response"`

	Whitelist    Whitelist      `yaml:"whitelist"`
	GeneralRules []quota.Rule   `yaml:"general_rules"`
	Policies     []quota.Policy `yaml:"policies"`

	Redis Redis `yaml:"redis"`

	// ReloadSchedule is a cron expression or descriptor for Watcher.
	ReloadSchedule string `yaml:"reload_schedule"`
}

// Whitelist lists exempt identities.
type Whitelist struct {
	ClientIDs []string `yaml:"client_ids"`
	IPRanges  []string `yaml:"ip_ranges"`
	Endpoints []string `yaml:"endpoints"`
}

// Redis describes the Redis connection used by the distributed processors
// and the Redis policy store.
type Redis struct {
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	Timeout   string `yaml:"timeout"`
}

// Load reads and validates the YAML file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, gqerrors.NewValidationError("config", "yaml", nil, err.Error())
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every enumerated setting, rule and policy.
func (f *File) Validate() error {
	if _, err := f.Options(); err != nil {
		return err
	}
	if _, err := processor.ParseKind(f.Processor); err != nil {
		return err
	}
	if _, err := engine.ParseFailurePolicy(f.FailurePolicy); err != nil {
		return err
	}
	switch f.PolicyStore {
	case "", PolicyStoreMemory, PolicyStoreRedis:
	default:
		return gqerrors.NewValidationError("config", "policy_store", f.PolicyStore, "unknown policy store").
			WithHint("use memory or redis")
	}
	if _, err := f.redisTimeout(); err != nil {
		return err
	}
	if f.ReloadSchedule != "" {
		if _, err := scheduleParser.Parse(f.ReloadSchedule); err != nil {
			return gqerrors.NewValidationError("config", "reload_schedule", f.ReloadSchedule, err.Error())
		}
	}
	regex := f.EnableRegexRuleMatching
	for i, rule := range f.GeneralRules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("general rule %d: %w", i, err)
		}
		if err := quota.ValidatePattern(rule.Endpoint, regex); err != nil {
			return fmt.Errorf("general rule %d: %w", i, err)
		}
	}
	for _, policy := range f.Policies {
		if err := policy.Validate(); err != nil {
			return err
		}
		for i, rule := range policy.Rules {
			if err := quota.ValidatePattern(rule.Endpoint, regex); err != nil {
				return fmt.Errorf("policy %q rule %d: %w", policy.Subject, i, err)
			}
		}
	}
	for _, entry := range f.Whitelist.Endpoints {
		if err := quota.ValidatePattern(entry, regex); err != nil {
			return fmt.Errorf("endpoint whitelist: %w", err)
		}
	}
	return nil
}

// Options converts the limiter settings into quota.Options.
func (f *File) Options() (quota.Options, error) {
	flavor, err := quota.ParseFlavor(f.Flavor)
	if err != nil {
		return quota.Options{}, err
	}
	mode, err := quota.ParseEndpointKeyMode(f.EndpointKeyMode)
	if err != nil {
		return quota.Options{}, err
	}
	opts := quota.Options{
		Flavor:                     flavor,
		MetadataKey:                f.MetadataKey,
		CounterPrefix:              f.CounterPrefix,
		EnableEndpointRateLimiting: f.EnableEndpointRateLimiting,
		EndpointKeyMode:            mode,
		StackBlockedRequests:       f.StackBlockedRequests,
		EnableRegexRuleMatching:    f.EnableRegexRuleMatching,
	}
	if opts.CounterPrefix == "" {
		opts.CounterPrefix = quota.DefaultCounterPrefix
	}
	return opts, opts.Validate()
}

// NeedsRedis reports whether the processor or policy store is Redis-backed.
func (f *File) NeedsRedis() bool {
	kind, _ := processor.ParseKind(f.Processor)
	return kind != processor.InMemory || f.PolicyStore == PolicyStoreRedis
}

// RedisClient opens a client for the configured Redis connection.
func (f *File) RedisClient() (*redis.Client, error) {
	if f.Redis.Addr == "" {
		return nil, gqerrors.NewValidationError("config", "redis.addr", "", "cannot be empty").
			WithHint("set redis.addr or use the in_memory processor and memory policy store")
	}
	return redis.NewClient(&redis.Options{
		Addr:     f.Redis.Addr,
		Username: f.Redis.Username,
		Password: f.Redis.Password,
		DB:       f.Redis.DB,
	}), nil
}

// EngineConfig builds the engine configuration described by the file.
// client is required when NeedsRedis reports true.
func (f *File) EngineConfig(client redis.UniversalClient) (engine.Config, error) {
	opts, err := f.Options()
	if err != nil {
		return engine.Config{}, err
	}
	kind, err := processor.ParseKind(f.Processor)
	if err != nil {
		return engine.Config{}, err
	}
	failure, err := engine.ParseFailurePolicy(f.FailurePolicy)
	if err != nil {
		return engine.Config{}, err
	}
	timeout, err := f.redisTimeout()
	if err != nil {
		return engine.Config{}, err
	}
	if f.NeedsRedis() && client == nil {
		return engine.Config{}, gqerrors.NewValidationError("config", "redis", nil, "a Redis client is required").
			WithHint("processor " + kind.String() + " and policy store " + f.PolicyStore)
	}

	cfg := engine.DefaultConfig()
	if f.Name != "" {
		cfg.Name = f.Name
	}
	cfg.Options = opts
	cfg.GeneralRules = f.GeneralRules
	cfg.Policies = f.Policies
	cfg.Whitelist = engine.WhitelistConfig{
		ClientIDs: f.Whitelist.ClientIDs,
		IPRanges:  f.Whitelist.IPRanges,
		Endpoints: f.Whitelist.Endpoints,
	}
	cfg.ProcessorKind = kind
	cfg.FailurePolicy = failure
	if f.PolicyPrefix != "" {
		cfg.PolicyPrefix = f.PolicyPrefix
	}
	if r := f.QuotaExceededResponse; r.Content != "" || r.ContentType != "" || r.StatusCode != 0 {
		cfg.QuotaExceededResponse = r
	}

	if kind != processor.InMemory {
		cfg.ProcessorConfig = processor.Config{
			Redis:     client,
			KeyPrefix: f.Redis.KeyPrefix,
			Timeout:   timeout,
		}
	}
	if f.PolicyStore == PolicyStoreRedis {
		policies, err := store.NewRedis[quota.Policy](store.RedisConfig{
			Client:    client,
			KeyPrefix: f.Redis.KeyPrefix,
			Timeout:   timeout,
		})
		if err != nil {
			return engine.Config{}, err
		}
		cfg.PolicyStore = policies
	}
	return cfg, nil
}

func (f *File) redisTimeout() (time.Duration, error) {
	if f.Redis.Timeout == "" {
		return store.DefaultRedisTimeout, nil
	}
	d, err := time.ParseDuration(f.Redis.Timeout)
	if err != nil || d < 0 {
		return 0, gqerrors.NewValidationError("config", "redis.timeout", f.Redis.Timeout, "invalid duration")
	}
	return d, nil
}
