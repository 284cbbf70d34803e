// Package engine decides whether a request identity is within quota.
//
// An Engine resolves the rules that apply to an identity (its stored
// policy merged with the general rules), increments one counter per rule
// through a processor.Processor, and returns a Decision:
//
//	e, err := engine.New(engine.Config{
//		GeneralRules: []quota.Rule{{Endpoint: "*", Period: "1s", Limit: 10}},
//	})
//	if err != nil {
//		return err
//	}
//	defer e.Close()
//
//	d, err := e.Evaluate(ctx, quota.NewIdentity(clientID, remoteIP, r.Method, r.URL.Path))
//	if err != nil {
//		return err
//	}
//	if !d.Allowed() {
//		// reply with d.Response and d.RetryAfter
//	}
//
// Whitelisted identities never touch a counter. Monitor-only rules report
// violations through Config.OnViolation and the logger but never block.
//
// # Policies
//
// Per-subject policies live in a store.Store and can be changed at
// runtime with SetPolicy and RemovePolicy. For the IP flavor a subject is
// an IP range expression, and an address collects the rules of every
// range that contains it.
//
// # Backend failures
//
// When the counter backend is unavailable, Config.FailurePolicy chooses
// between returning the error, failing open and failing closed.
package engine
