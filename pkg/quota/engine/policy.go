package engine

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/vnykmshr/goquota/pkg/quota"
	"github.com/vnykmshr/goquota/pkg/quota/iprange"
)

// GetPolicy returns the policy stored for subject. A missing policy is
// not an error.
func (e *Engine) GetPolicy(ctx context.Context, subject string) (quota.Policy, bool, error) {
	return e.policies.Get(ctx, e.policyKey(subject))
}

// SetPolicy stores policy, replacing any previous policy for its subject,
// and adds the subject to the store's subject index. For the ByIP flavor
// the subject must be an IP range expression.
func (e *Engine) SetPolicy(ctx context.Context, policy quota.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if err := e.validatePatterns(policy.Rules); err != nil {
		return fmt.Errorf("policy %q: %w", policy.Subject, err)
	}
	if e.opts.Flavor == quota.ByIP {
		if _, err := iprange.ParseRange(policy.Subject); err != nil {
			return fmt.Errorf("policy %q: %w", policy.Subject, err)
		}
	}
	policy.Subjects = nil

	if err := e.policies.Set(ctx, e.policyKey(policy.Subject), policy, 0); err != nil {
		return err
	}
	n, err := e.updateIndex(ctx, policy.Subject, true)
	if err != nil {
		return err
	}

	e.logger.Debug("policy stored", zap.String("subject", policy.Subject), zap.Int("rules", len(policy.Rules)))
	e.recordPolicies(n)
	return nil
}

// RemovePolicy deletes the policy for subject.
func (e *Engine) RemovePolicy(ctx context.Context, subject string) error {
	if err := e.policies.Remove(ctx, e.policyKey(subject)); err != nil {
		return err
	}
	n, err := e.updateIndex(ctx, subject, false)
	if err != nil {
		return err
	}

	e.rangesMu.Lock()
	delete(e.ranges, subject)
	e.rangesMu.Unlock()

	e.recordPolicies(n)
	return nil
}

// SeedPolicies stores every policy in order, stopping at the first error.
func (e *Engine) SeedPolicies(ctx context.Context, policies []quota.Policy) error {
	for _, policy := range policies {
		if err := e.SetPolicy(ctx, policy); err != nil {
			return err
		}
	}
	e.logger.Info("policies seeded", zap.Int("count", len(policies)))
	return nil
}

// PolicySubjects returns every subject in the policy store's index, in
// sorted order. Engines sharing a store see the same subjects.
func (e *Engine) PolicySubjects(ctx context.Context) ([]string, error) {
	subjects, err := e.subjects(ctx)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), subjects...), nil
}

// indexKey names the store entry listing every policy subject. policyKey
// always puts "_" after the prefix, so no subject maps onto it.
func (e *Engine) indexKey() string {
	return e.prefix + ":subjects"
}

func (e *Engine) subjects(ctx context.Context) ([]string, error) {
	index, ok, err := e.policies.Get(ctx, e.indexKey())
	if err != nil || !ok {
		return nil, err
	}
	return index.Subjects, nil
}

// updateIndex adds subject to, or drops it from, the stored index and
// returns the number of indexed subjects.
func (e *Engine) updateIndex(ctx context.Context, subject string, present bool) (int, error) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()

	subjects, err := e.subjects(ctx)
	if err != nil {
		return 0, err
	}
	i := sort.SearchStrings(subjects, subject)
	found := i < len(subjects) && subjects[i] == subject
	if found == present {
		return len(subjects), nil
	}

	next := make([]string, 0, len(subjects)+1)
	next = append(next, subjects[:i]...)
	if present {
		next = append(next, subject)
		next = append(next, subjects[i:]...)
	} else {
		next = append(next, subjects[i+1:]...)
	}

	if err := e.policies.Set(ctx, e.indexKey(), quota.Policy{Subjects: next}, 0); err != nil {
		return 0, err
	}
	return len(next), nil
}

// parsedRange returns the range for an indexed IP subject, parsing each
// expression once.
func (e *Engine) parsedRange(subject string) (iprange.Range, bool) {
	e.rangesMu.RLock()
	r, ok := e.ranges[subject]
	e.rangesMu.RUnlock()
	if ok {
		return r, true
	}

	r, err := iprange.ParseRange(subject)
	if err != nil {
		e.logger.Warn("skipping unparsable ip policy subject", zap.String("subject", subject), zap.Error(err))
		return iprange.Range{}, false
	}
	e.rangesMu.Lock()
	e.ranges[subject] = r
	e.rangesMu.Unlock()
	return r, true
}
