package quota

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// ParameterKeySeparator joins the client/endpoint hash and the parameter
// hash of parameter-scoped counter keys.
const ParameterKeySeparator = ":"

// KeyBuilder derives counter keys. Keys are hex-encoded SHA-1 digests, so
// they have a fixed length and a store-safe alphabet whatever the inputs.
type KeyBuilder struct {
	opts Options
}

// NewKeyBuilder creates a KeyBuilder. An empty prefix uses DefaultCounterPrefix.
func NewKeyBuilder(opts Options) KeyBuilder {
	if opts.CounterPrefix == "" {
		opts.CounterPrefix = DefaultCounterPrefix
	}
	return KeyBuilder{opts: opts}
}

// Build returns the counter key for id under rule. Identical inputs always
// produce identical keys, and each part is written with its length so
// distinct inputs never share a digest input.
func (b KeyBuilder) Build(id Identity, rule Rule) string {
	var sb strings.Builder
	writePart(&sb, b.opts.CounterPrefix)
	writePart(&sb, b.opts.Subject(id))
	writePart(&sb, rule.Period)

	if b.opts.EnableEndpointRateLimiting {
		switch b.opts.EndpointKeyMode {
		case EndpointKeyPath:
			writePart(&sb, id.HTTPVerb)
			writePart(&sb, id.Path)
		default:
			writePart(&sb, rule.Endpoint)
		}
	}

	key := digest(sb.String())
	if rule.Parameter == nil {
		return key
	}
	return key + ParameterKeySeparator + b.ParameterSegment(rule)
}

// ParameterSegment hashes the parameter portion of a parameter-scoped
// rule: its name, its allowed values in sorted order, and its period.
func (b KeyBuilder) ParameterSegment(rule Rule) string {
	if rule.Parameter == nil {
		return ""
	}
	values := append([]string(nil), rule.Parameter.Values...)
	sort.Strings(values)

	var sb strings.Builder
	writePart(&sb, b.opts.CounterPrefix)
	writePart(&sb, "param")
	writePart(&sb, rule.Parameter.Name)
	writePart(&sb, strconv.Itoa(len(values)))
	for _, v := range values {
		writePart(&sb, v)
	}
	writePart(&sb, rule.Period)
	return digest(sb.String())
}

// writePart appends s preceded by its byte length.
func writePart(sb *strings.Builder, s string) {
	sb.WriteString(strconv.Itoa(len(s)))
	sb.WriteByte(':')
	sb.WriteString(s)
}

func digest(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
