package quota

import (
	"sort"
	"strings"

	"github.com/vnykmshr/goquota/pkg/quota/match"
)

// Resolver selects the rules that govern a request.
type Resolver struct {
	opts Options
}

// NewResolver creates a Resolver for opts.
func NewResolver(opts Options) *Resolver {
	return &Resolver{opts: opts}
}

// Resolve returns the rules that apply to id, ordered by ascending period
// (descending when StackBlockedRequests is set).
//
// Only the most restrictive rule per period survives, and general rules
// fill in periods the identity's own policy rules do not cover. A rule
// whose period cannot be parsed is an error.
func (r *Resolver) Resolve(id Identity, policyRules, generalRules []Rule) ([]Rule, error) {
	own, err := r.mostRestrictive(r.applicable(id, policyRules))
	if err != nil {
		return nil, err
	}

	general, err := r.mostRestrictive(r.applicable(id, generalRules))
	if err != nil {
		return nil, err
	}

	covered := make(map[string]struct{}, len(own))
	for _, rule := range own {
		covered[groupKey(rule)] = struct{}{}
	}
	result := own
	for _, rule := range general {
		if _, ok := covered[groupKey(rule)]; !ok {
			result = append(result, rule)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].PeriodDuration != result[j].PeriodDuration {
			return result[i].PeriodDuration < result[j].PeriodDuration
		}
		return groupKey(result[i]) < groupKey(result[j])
	})

	if r.opts.StackBlockedRequests {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	return result, nil
}

// applicable filters rules down to those whose endpoint and parameter
// scope match id. Rules matching "*:path" come before those matching the
// exact verb.
func (r *Resolver) applicable(id Identity, rules []Rule) []Rule {
	if len(rules) == 0 {
		return nil
	}

	var out []Rule
	if !r.opts.EnableEndpointRateLimiting {
		for _, rule := range rules {
			if rule.Endpoint == "*" && parameterApplies(id, rule) {
				out = append(out, rule)
			}
		}
		return out
	}

	anyVerb := "*:" + id.Path
	for _, rule := range rules {
		if (rule.Endpoint == "*" || match.Match(anyVerb, rule.Endpoint, r.opts.EnableRegexRuleMatching)) &&
			parameterApplies(id, rule) {
			out = append(out, rule)
		}
	}

	exact := id.Endpoint()
	for _, rule := range rules {
		if rule.Endpoint != "*" && match.Match(exact, rule.Endpoint, r.opts.EnableRegexRuleMatching) &&
			parameterApplies(id, rule) {
			out = append(out, rule)
		}
	}
	return out
}

// mostRestrictive keeps, per period, the rule with the lowest limit. Ties
// go to the lexically smallest endpoint.
func (r *Resolver) mostRestrictive(rules []Rule) ([]Rule, error) {
	best := make(map[string]Rule, len(rules))
	order := make([]string, 0, len(rules))

	for _, rule := range rules {
		resolved, err := rule.Resolved()
		if err != nil {
			return nil, err
		}
		key := groupKey(resolved)
		current, seen := best[key]
		if !seen {
			order = append(order, key)
			best[key] = resolved
			continue
		}
		if resolved.Limit < current.Limit ||
			(resolved.Limit == current.Limit && resolved.Endpoint < current.Endpoint) {
			best[key] = resolved
		}
	}

	out := make([]Rule, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out, nil
}

// groupKey identifies the period bucket a rule competes in. Parameter
// rules count separately from plain rules of the same period.
func groupKey(rule Rule) string {
	if rule.Parameter == nil {
		return rule.Period
	}
	values := append([]string(nil), rule.Parameter.Values...)
	sort.Strings(values)
	return rule.Period + "|" + rule.Parameter.Name + "=" + strings.Join(values, ",")
}

func parameterApplies(id Identity, rule Rule) bool {
	if rule.Parameter == nil {
		return true
	}
	value, ok := id.Parameters[rule.Parameter.Name]
	if !ok {
		return false
	}
	if len(rule.Parameter.Values) == 0 {
		return true
	}
	for _, allowed := range rule.Parameter.Values {
		if strings.EqualFold(allowed, value) {
			return true
		}
	}
	return false
}
