/*
Package quota holds the data model and pure decision helpers of the goquota
rate-limit engine: rules and policies, request identities, counters, rule
resolution, counter key derivation, whitelists, and response headers.

# Rules

A Rule limits requests to an endpoint pattern within a fixed period:

	rule := quota.Rule{Endpoint: "get:/api/*", Period: "1m", Limit: 60}

Endpoints are "*" (every request), "*:/path" (any verb) or "verb:/path".
Paths may contain '*' and '?' wildcards, or regular expressions when
Options.EnableRegexRuleMatching is set. Periods are a number followed by
s, m, h or d.

# Resolution

Resolver.Resolve picks the rules that govern a request. Only endpoint "*"
rules apply unless endpoint limiting is enabled. For each period the rule
with the lowest limit wins, and general rules only fill periods the
identity's own policy leaves uncovered:

	resolver := quota.NewResolver(opts)
	rules, err := resolver.Resolve(id, policy.Rules, generalRules)

# Counter keys

KeyBuilder derives a deterministic SHA-1 hex key from the counter prefix,
the identity subject, the rule period and, with endpoint limiting, either
the rule endpoint (EndpointKeyPattern) or the concrete verb and path
(EndpointKeyPath). Parameter-scoped rules append a second hashed segment.

Sub-packages

  - match: wildcard and regex endpoint matching
  - iprange: IPv4/IPv6 range expressions
  - keylock: per-key async reader/writer locks
  - store: counter and policy stores (memory, Redis)
  - processor: atomic counter increments
  - engine: the decision facade
  - config: YAML configuration and hot reload
  - middleware: net/http adapter
*/
package quota
