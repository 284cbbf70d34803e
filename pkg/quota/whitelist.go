package quota

import (
	"fmt"

	"github.com/vnykmshr/goquota/pkg/quota/iprange"
	"github.com/vnykmshr/goquota/pkg/quota/match"
)

// Whitelist exempts requests from limiting by client id, IP range or
// endpoint.
type Whitelist struct {
	clientIDs map[string]struct{}
	ranges    []iprange.Range
	endpoints []string
	useRegex  bool
}

// NewWhitelist parses the IP range expressions up front so that a
// malformed entry fails at load time rather than per request.
func NewWhitelist(clientIDs, ipRanges, endpoints []string, useRegex bool) (*Whitelist, error) {
	w := &Whitelist{
		clientIDs: make(map[string]struct{}, len(clientIDs)),
		endpoints: append([]string(nil), endpoints...),
		useRegex:  useRegex,
	}
	for _, id := range clientIDs {
		w.clientIDs[id] = struct{}{}
	}
	for _, expr := range ipRanges {
		r, err := iprange.ParseRange(expr)
		if err != nil {
			return nil, fmt.Errorf("ip whitelist: %w", err)
		}
		w.ranges = append(w.ranges, r)
	}
	for _, entry := range endpoints {
		if err := ValidatePattern(entry, useRegex); err != nil {
			return nil, fmt.Errorf("endpoint whitelist: %w", err)
		}
	}
	return w, nil
}

// Contains reports whether id is exempt. A nil Whitelist contains nothing.
func (w *Whitelist) Contains(id Identity) bool {
	if w == nil {
		return false
	}
	if _, ok := w.clientIDs[id.ClientID]; ok && id.ClientID != "" {
		return true
	}
	if id.ClientIP != "" {
		for _, r := range w.ranges {
			if r.Contains(id.ClientIP) {
				return true
			}
		}
	}
	if len(w.endpoints) > 0 {
		exact := id.Endpoint()
		anyVerb := "*:" + id.Path
		for _, entry := range w.endpoints {
			if match.Match(exact, entry, w.useRegex) || match.Match(anyVerb, entry, w.useRegex) {
				return true
			}
		}
	}
	return false
}

// Empty reports whether the whitelist has no entries.
func (w *Whitelist) Empty() bool {
	return w == nil || (len(w.clientIDs) == 0 && len(w.ranges) == 0 && len(w.endpoints) == 0)
}
