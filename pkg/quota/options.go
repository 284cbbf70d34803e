package quota

import (
	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
)

// Flavor selects which part of the identity a limiter is keyed by.
type Flavor int

const (
	// ByClient keys counters and policies by client id.
	ByClient Flavor = iota

	// ByIP keys counters by client IP; policies are IP range expressions.
	ByIP

	// ByMetadata keys counters and policies by Identity.Metadata[MetadataKey].
	ByMetadata
)

func (f Flavor) String() string {
	switch f {
	case ByClient:
		return "client"
	case ByIP:
		return "ip"
	case ByMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// ParseFlavor maps "client", "ip" or "metadata" to a Flavor.
func ParseFlavor(s string) (Flavor, error) {
	switch s {
	case "", "client":
		return ByClient, nil
	case "ip":
		return ByIP, nil
	case "metadata":
		return ByMetadata, nil
	}
	return 0, gqerrors.NewValidationError("quota", "flavor", s, "unknown limiter flavor").
		WithHint("use client, ip or metadata")
}

// EndpointKeyMode controls how endpoint rules are folded into counter keys.
type EndpointKeyMode int

const (
	// EndpointKeyPattern shares one counter among all paths matching a
	// rule's endpoint pattern.
	EndpointKeyPattern EndpointKeyMode = iota

	// EndpointKeyPath keeps one counter per concrete verb and path.
	EndpointKeyPath
)

func (m EndpointKeyMode) String() string {
	if m == EndpointKeyPath {
		return "path"
	}
	return "pattern"
}

// ParseEndpointKeyMode maps "pattern" or "path" to an EndpointKeyMode.
func ParseEndpointKeyMode(s string) (EndpointKeyMode, error) {
	switch s {
	case "", "pattern":
		return EndpointKeyPattern, nil
	case "path":
		return EndpointKeyPath, nil
	}
	return 0, gqerrors.NewValidationError("quota", "endpoint_key_mode", s, "unknown endpoint key mode").
		WithHint("use pattern or path")
}

// DefaultCounterPrefix prefixes every counter key before hashing.
const DefaultCounterPrefix = "crlc"

// Options holds the settings shared by rule resolution and key building.
type Options struct {
	Flavor      Flavor
	MetadataKey string

	CounterPrefix string

	// EnableEndpointRateLimiting applies endpoint-specific rules; when
	// false only "*" rules are considered.
	EnableEndpointRateLimiting bool
	EndpointKeyMode            EndpointKeyMode

	// StackBlockedRequests evaluates the longest period first so that
	// shorter windows keep counting while a longer one blocks.
	StackBlockedRequests bool

	EnableRegexRuleMatching bool
}

// DefaultOptions returns client-keyed options with endpoint limiting off.
func DefaultOptions() Options {
	return Options{
		Flavor:        ByClient,
		CounterPrefix: DefaultCounterPrefix,
	}
}

// Subject returns the identity discriminator for the configured flavor.
func (o Options) Subject(id Identity) string {
	switch o.Flavor {
	case ByIP:
		return id.ClientIP
	case ByMetadata:
		return id.Metadata[o.MetadataKey]
	default:
		return id.ClientID
	}
}

// Validate checks option combinations.
func (o Options) Validate() error {
	if o.Flavor == ByMetadata && o.MetadataKey == "" {
		return gqerrors.NewValidationError("quota", "metadata_key", "", "required for metadata flavor")
	}
	if o.Flavor < ByClient || o.Flavor > ByMetadata {
		return gqerrors.NewValidationError("quota", "flavor", int(o.Flavor), "unknown limiter flavor")
	}
	return nil
}
