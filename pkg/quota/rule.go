package quota

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/common/validation"
	"github.com/vnykmshr/goquota/pkg/quota/match"
)

// Rule limits how many requests an identity may make to an endpoint
// pattern within one period.
type Rule struct {
	// Endpoint is "*", "*:/path" or "verb:/path"; paths may use wildcards
	// or, with regex matching enabled, regular expressions.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Period is a number followed by s, m, h or d, e.g. "1s" or "1.5h".
	Period string `json:"period" yaml:"period"`

	// Limit is the number of requests admitted per period. A limit of
	// zero or less blocks every request.
	Limit float64 `json:"limit" yaml:"limit"`

	// MonitorOnly rules record violations but never block.
	MonitorOnly bool `json:"monitorOnly,omitempty" yaml:"monitor_only"`

	// QuotaExceededResponse overrides the engine's default block response.
	QuotaExceededResponse *QuotaExceededResponse `json:"quotaExceededResponse,omitempty" yaml:"quota_exceeded_response"`

	// Parameter restricts the rule to requests carrying a body parameter.
	Parameter *ParameterRule `json:"parameter,omitempty" yaml:"parameter"`

	// PeriodDuration is derived from Period during resolution.
	PeriodDuration time.Duration `json:"-" yaml:"-"`
}

// QuotaExceededResponse describes the response returned for a blocked
// request. Content may reference {limit}, {period} and {retryAfter}.
type QuotaExceededResponse struct {
	ContentType string `json:"contentType,omitempty" yaml:"content_type"`
	Content     string `json:"content,omitempty" yaml:"content"`
	StatusCode  int    `json:"statusCode,omitempty" yaml:"status_code"`
}

// ParameterRule scopes a rule to a named request parameter. With no
// Values, any value of the parameter matches.
type ParameterRule struct {
	Name   string   `json:"name" yaml:"name"`
	Values []string `json:"values,omitempty" yaml:"values"`
}

// Policy is the ordered rule set bound to one subject: a client id, an IP
// range expression or a metadata value.
type Policy struct {
	Subject string `json:"subject" yaml:"subject"`
	Rules   []Rule `json:"rules" yaml:"rules"`

	// Subjects is only set on the index entry a policy store keeps next
	// to the policies, listing every stored subject in sorted order.
	Subjects []string `json:"subjects,omitempty" yaml:"-"`
}

var periodPattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)([smhd])$`)

// ParsePeriod converts a period string such as "30s", "5m", "1.5h" or "1d"
// into a duration. Anything else, including zero periods, is a
// configuration error.
func ParsePeriod(period string) (time.Duration, error) {
	m := periodPattern.FindStringSubmatch(period)
	if m == nil {
		return 0, gqerrors.NewValidationError("quota", "period", period, "unrecognized period format").
			WithHint("use a number followed by s, m, h or d, e.g. 1s, 15m, 1.5h, 1d")
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, gqerrors.NewValidationError("quota", "period", period, err.Error())
	}

	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}

	d := time.Duration(value * float64(unit))
	if d <= 0 {
		return 0, gqerrors.NewValidationError("quota", "period", period, "period must be positive")
	}
	return d, nil
}

// Resolved returns a copy of r with PeriodDuration filled in.
func (r Rule) Resolved() (Rule, error) {
	if r.PeriodDuration > 0 {
		return r, nil
	}
	d, err := ParsePeriod(r.Period)
	if err != nil {
		return r, fmt.Errorf("rule %q: %w", r.Endpoint, err)
	}
	r.PeriodDuration = d
	return r, nil
}

// Validate checks the rule's endpoint and period.
func (r Rule) Validate() error {
	if err := validation.ValidateNotEmpty("quota", "endpoint", r.Endpoint); err != nil {
		return err
	}
	if _, err := ParsePeriod(r.Period); err != nil {
		return err
	}
	if r.Parameter != nil && r.Parameter.Name == "" {
		return gqerrors.NewValidationError("quota", "parameter.name", "", "cannot be empty")
	}
	return nil
}

// ValidatePattern rejects an endpoint pattern that does not compile when
// patterns match as regular expressions. The global "*" is always valid.
func ValidatePattern(pattern string, useRegex bool) error {
	if !useRegex || pattern == "*" || match.IsValidRegex(pattern) {
		return nil
	}
	return gqerrors.NewValidationError("quota", "endpoint", pattern, "invalid regular expression").
		WithHint("fix the expression or disable regex rule matching")
}

// Validate checks the subject and every rule of the policy.
func (p Policy) Validate() error {
	if err := validation.ValidateNotEmpty("quota", "subject", p.Subject); err != nil {
		return err
	}
	for i, rule := range p.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("policy %q rule %d: %w", p.Subject, i, err)
		}
	}
	return nil
}
