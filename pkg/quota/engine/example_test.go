package engine_test

import (
	"context"
	"fmt"

	"github.com/vnykmshr/goquota/pkg/quota"
	"github.com/vnykmshr/goquota/pkg/quota/engine"
)

// Example shows a client exhausting a two-per-minute quota.
func Example() {
	e, err := engine.New(engine.Config{
		GeneralRules: []quota.Rule{{Endpoint: "*", Period: "1m", Limit: 2}},
	})
	if err != nil {
		panic(err)
	}
	defer e.Close()

	id := quota.NewIdentity("client-a", "192.168.0.10", "GET", "/api/values")
	for i := 0; i < 3; i++ {
		d, err := e.Evaluate(context.Background(), id)
		if err != nil {
			panic(err)
		}
		fmt.Println(d.Outcome, d.Response.StatusCode)
	}

	// Output:
	// allowed 0
	// allowed 0
	// blocked 429
}

// Example_policies shows a stored policy raising one client's limit.
func Example_policies() {
	e, err := engine.New(engine.Config{
		GeneralRules: []quota.Rule{{Endpoint: "*", Period: "1h", Limit: 100}},
		Policies: []quota.Policy{{
			Subject: "partner",
			Rules:   []quota.Rule{{Endpoint: "*", Period: "1h", Limit: 5000}},
		}},
	})
	if err != nil {
		panic(err)
	}
	defer e.Close()

	for _, client := range []string{"partner", "anonymous"} {
		rules, err := e.Resolve(context.Background(), quota.NewIdentity(client, "", "GET", "/"))
		if err != nil {
			panic(err)
		}
		fmt.Printf("%s: %v per %s\n", client, rules[0].Limit, rules[0].Period)
	}

	// Output:
	// partner: 5000 per 1h
	// anonymous: 100 per 1h
}

// Example_whitelist shows an exempt client bypassing limits.
func Example_whitelist() {
	e, err := engine.New(engine.Config{
		GeneralRules: []quota.Rule{{Endpoint: "*", Period: "1s", Limit: 0}},
		Whitelist:    engine.WhitelistConfig{ClientIDs: []string{"ops"}},
	})
	if err != nil {
		panic(err)
	}
	defer e.Close()

	for _, client := range []string{"ops", "guest"} {
		d, _ := e.Evaluate(context.Background(), quota.NewIdentity(client, "", "GET", "/"))
		fmt.Println(client, d.Outcome)
	}

	// Output:
	// ops whitelisted
	// guest blocked
}
