/*
Package goquota is a request-quota decision engine for HTTP services.

Given a request identity (client id, client IP, verb, path and optional
metadata), it resolves the fixed-window rules that apply, counts the
request against each of them, and decides whether it is allowed, blocked
with a retry-after delay, or whitelisted.

Quota (pkg/quota):
  - quota: rules, policies, identities, key building, rule resolution, headers
  - engine: the decision orchestrator, policy administration, failure policies
  - processor: in-memory, distributed-cache and atomic Redis counting
  - store: memory and Redis key-value stores with expiry
  - keylock: per-key reader/writer locks with cancellation
  - match, iprange: endpoint pattern and IP range matching
  - middleware: net/http adapter
  - config: YAML configuration and scheduled policy reload

Example usage:

	import (
		"github.com/vnykmshr/goquota/pkg/quota"
		"github.com/vnykmshr/goquota/pkg/quota/engine"
	)

	e, _ := engine.New(engine.Config{
		GeneralRules: []quota.Rule{{Endpoint: "*", Period: "1s", Limit: 10}},
	})
	defer e.Close()

	d, _ := e.Evaluate(ctx, quota.NewIdentity("client-a", "10.0.0.1", "GET", "/api"))
	if !d.Allowed() {
		// respond with d.Response and d.RetryAfter
	}
*/
package goquota
