// Package middleware enforces quota decisions on net/http handlers.
//
// Each request is turned into a quota.Identity (client id header,
// remote or proxied address, method, path, metadata headers and query
// parameters) and evaluated. Allowed requests reach the wrapped handler
// with X-Rate-Limit-Limit, X-Rate-Limit-Remaining and X-Rate-Limit-Reset
// set; blocked requests get the engine's quota-exceeded response and a
// Retry-After header.
//
//	mw, err := middleware.New(eng, middleware.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	http.ListenAndServe(":8080", mw.Handler(mux))
package middleware
