package quota

import "strings"

// Identity is the normalized description of one inbound request.
type Identity struct {
	ClientID string
	ClientIP string
	HTTPVerb string
	Path     string

	// Metadata carries extra subject values for metadata-keyed limiting.
	Metadata map[string]string

	// Parameters holds request parameters for parameter-scoped rules.
	Parameters map[string]string
}

// NewIdentity builds an Identity with the verb and path normalized: both
// lowercased, and the path stripped of a trailing slash unless it is "/".
func NewIdentity(clientID, clientIP, verb, path string) Identity {
	return Identity{
		ClientID: clientID,
		ClientIP: strings.TrimSpace(clientIP),
		HTTPVerb: strings.ToLower(verb),
		Path:     NormalizePath(path),
	}
}

// NormalizePath lowercases p and trims one or more trailing slashes,
// keeping the root path intact.
func NormalizePath(p string) string {
	p = strings.ToLower(p)
	if p == "" {
		return "/"
	}
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

// Endpoint renders the identity as "verb:path".
func (id Identity) Endpoint() string {
	return id.HTTPVerb + ":" + id.Path
}
