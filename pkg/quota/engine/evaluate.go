package engine

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/quota"
	"github.com/vnykmshr/goquota/pkg/quota/store"
)

// Evaluate decides whether id may proceed.
//
// Whitelisted identities are allowed without touching any counter.
// Otherwise every resolved rule is processed in order. The first exceeded
// rule that is not monitor-only blocks the request and stops evaluation;
// exceeded monitor-only rules are reported and evaluation continues. An
// allowed decision carries headers for the longest evaluated period.
func (e *Engine) Evaluate(ctx context.Context, id quota.Identity) (Decision, error) {
	e.recordRequest()

	if e.IsWhitelisted(id) {
		d := Decision{Outcome: Whitelisted}
		e.recordDecision(d)
		return d, nil
	}

	rules, err := e.Resolve(ctx, id)
	if err != nil {
		return e.fail(ctx, id, err)
	}

	var (
		decision  = Decision{Outcome: Allowed}
		evaluated bool
	)

	for _, rule := range rules {
		now := e.clock.Now()

		if rule.Limit <= 0 {
			if rule.MonitorOnly {
				e.violation(ctx, &decision, Violation{
					Identity:    id,
					Rule:        rule,
					Counter:     quota.Counter{Timestamp: now},
					MonitorOnly: true,
					RetryAfter:  strconv.Itoa(quota.RetryAfterInfinite),
				})
				continue
			}
			counter, err := e.ProcessRequest(ctx, id, rule)
			if err != nil {
				return e.fail(ctx, id, err)
			}
			return e.block(ctx, id, decision, rule, counter, strconv.Itoa(quota.RetryAfterInfinite)), nil
		}

		counter, err := e.ProcessRequest(ctx, id, rule)
		if err != nil {
			return e.fail(ctx, id, err)
		}

		// A window that already closed cannot be exceeded.
		if counter.Expired(rule.PeriodDuration, now) {
			continue
		}

		if !evaluated || rule.PeriodDuration > decision.Rule.PeriodDuration {
			decision.Rule = rule
			decision.Counter = counter
			evaluated = true
		}

		if counter.Count <= rule.Limit {
			continue
		}

		retryAfter := quota.RetryAfter(counter.Timestamp, rule, now)
		if rule.MonitorOnly {
			e.violation(ctx, &decision, Violation{
				Identity:    id,
				Rule:        rule,
				Counter:     counter,
				MonitorOnly: true,
				RetryAfter:  retryAfter,
			})
			continue
		}
		return e.block(ctx, id, decision, rule, counter, retryAfter), nil
	}

	if evaluated {
		headers := quota.NewHeaders(decision.Rule, decision.Counter)
		decision.Headers = &headers
	}
	e.recordDecision(decision)
	return decision, nil
}

// violation records an exceeded monitor-only rule.
func (e *Engine) violation(ctx context.Context, d *Decision, v Violation) {
	d.Violations = append(d.Violations, v)
	e.recordViolation(v)
	e.logger.Warn("quota exceeded in monitor mode",
		append(identityFields(v.Identity),
			zap.String("endpoint", v.Rule.Endpoint),
			zap.String("period", v.Rule.Period),
			zap.Float64("limit", v.Rule.Limit),
			zap.Float64("count", v.Counter.Count),
		)...)
	if e.onViolation != nil {
		e.onViolation(ctx, v)
	}
}

// block finishes a decision that rejects the request.
func (e *Engine) block(ctx context.Context, id quota.Identity, d Decision, rule quota.Rule, counter quota.Counter, retryAfter string) Decision {
	v := Violation{Identity: id, Rule: rule, Counter: counter, RetryAfter: retryAfter}
	d.Violations = append(d.Violations, v)
	e.recordViolation(v)
	if e.onViolation != nil {
		e.onViolation(ctx, v)
	}

	d.Outcome = Blocked
	d.Rule = rule
	d.Counter = counter
	d.RetryAfter = retryAfter
	headers := quota.NewHeaders(rule, counter)
	d.Headers = &headers
	d.Response = e.render(rule, retryAfter)

	e.logger.Info("request blocked",
		append(identityFields(id),
			zap.String("endpoint", rule.Endpoint),
			zap.String("period", rule.Period),
			zap.Float64("limit", rule.Limit),
			zap.Float64("count", counter.Count),
			zap.String("retry_after", retryAfter),
		)...)
	e.recordDecision(d)
	if e.onBlocked != nil {
		e.onBlocked(ctx, d)
	}
	return d
}

// render builds the block response, preferring the rule's own settings.
func (e *Engine) render(rule quota.Rule, retryAfter string) quota.QuotaExceededResponse {
	resp := e.response
	if override := rule.QuotaExceededResponse; override != nil {
		if override.Content != "" {
			resp.Content = override.Content
		}
		if override.ContentType != "" {
			resp.ContentType = override.ContentType
		}
		if override.StatusCode != 0 {
			resp.StatusCode = override.StatusCode
		}
	}
	resp.Content = quota.QuotaExceededMessage(resp.Content, rule, retryAfter)
	return resp
}

// fail applies the failure policy to err.
func (e *Engine) fail(ctx context.Context, id quota.Identity, err error) (Decision, error) {
	fields := append(identityFields(id), zap.Error(err))

	switch {
	case errors.Is(err, gqerrors.ErrIdentityResolution):
		e.recordError("identity")
		e.logger.Warn("cannot resolve identity", fields...)
		return Decision{}, err
	case store.IsDecodeError(err):
		e.recordError("decode")
		e.logger.Error("stored value cannot be decoded", fields...)
		return Decision{}, gqerrors.NewOperationError("engine", "evaluate", err)
	case !gqerrors.IsTemporary(err):
		e.recordError("internal")
		e.logger.Error("evaluation failed", fields...)
		return Decision{}, gqerrors.NewOperationError("engine", "evaluate", err)
	}

	if errors.Is(err, gqerrors.ErrTimeout) {
		e.recordError("timeout")
		e.logger.Error("backend timed out", append(fields, zap.Stringer("failure_policy", e.failure))...)
	} else {
		e.recordError("backend")
		e.logger.Error("backend unavailable", append(fields, zap.Stringer("failure_policy", e.failure))...)
	}

	switch e.failure {
	case FailureAllow:
		d := Decision{Outcome: Allowed, Degraded: true}
		e.recordDecision(d)
		return d, nil
	case FailureBlock:
		d := Decision{
			Outcome:  Blocked,
			Degraded: true,
			Response: quota.QuotaExceededResponse{
				ContentType: "text/plain",
				Content:     "rate limit backend unavailable",
				StatusCode:  DefaultUnavailableStatus,
			},
		}
		e.recordDecision(d)
		if e.onBlocked != nil {
			e.onBlocked(ctx, d)
		}
		return d, nil
	default:
		return Decision{}, gqerrors.NewOperationError("engine", "evaluate", err).
			WithContext("failure policy " + e.failure.String())
	}
}

func identityFields(id quota.Identity) []zap.Field {
	return []zap.Field{
		zap.String("client_id", id.ClientID),
		zap.String("client_ip", id.ClientIP),
		zap.String("verb", id.HTTPVerb),
		zap.String("path", id.Path),
	}
}
