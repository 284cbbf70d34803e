package engine

import (
	"github.com/vnykmshr/goquota/pkg/quota"
)

// Outcome is the verdict of an evaluation.
type Outcome int

const (
	// Allowed requests may proceed.
	Allowed Outcome = iota

	// Blocked requests exceeded a rule that is not monitor-only.
	Blocked

	// Whitelisted requests bypassed limiting; no counter was touched.
	Whitelisted
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Blocked:
		return "blocked"
	case Whitelisted:
		return "whitelisted"
	default:
		return "unknown"
	}
}

// Violation is one exceeded rule.
type Violation struct {
	Identity    quota.Identity
	Rule        quota.Rule
	Counter     quota.Counter
	MonitorOnly bool

	// RetryAfter is the number of seconds until the rule's window closes.
	RetryAfter string
}

// Decision is the result of Evaluate.
type Decision struct {
	Outcome Outcome

	// Rule and Counter are the violating rule on block, and the rule with
	// the longest evaluated period otherwise.
	Rule    quota.Rule
	Counter quota.Counter

	// RetryAfter is set on block, in whole seconds.
	RetryAfter string

	// Headers is nil when no rule applied.
	Headers *quota.Headers

	// Violations lists every exceeded rule, including monitor-only ones.
	Violations []Violation

	// Response is the rendered block response. Zero unless blocked.
	Response quota.QuotaExceededResponse

	// Degraded is set when the decision was forced by the failure policy
	// because a backend was unavailable.
	Degraded bool
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome != Blocked
}
