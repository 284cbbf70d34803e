// Package iprange parses IP range expressions and tests address membership.
//
// Four syntaxes are accepted, for both IPv4 and IPv6:
//
//	192.168.0.0/24              CIDR
//	192.168.0.0/255.255.255.0   bitmask
//	192.168.0.10-192.168.0.20   explicit range
//	192.168.0.10                single address
//
// Addresses are handled as fixed-width unsigned big-endian integers
// (4 or 16 bytes); a range only contains addresses of its own family.
package iprange

import (
	"net/netip"
	"strconv"
	"strings"
	"unicode"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
)

// Range is an inclusive address interval [Begin, End] of one family.
type Range struct {
	Begin []byte
	End   []byte
}

// ParseRange parses expr after removing all whitespace. Unrecognized
// expressions return a *errors.ValidationError.
func ParseRange(expr string) (Range, error) {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, expr)

	if s == "" {
		return Range{}, invalid(expr, "empty range expression")
	}

	if addr, rest, ok := strings.Cut(s, "/"); ok {
		base, err := parseAddr(addr)
		if err != nil {
			return Range{}, invalid(expr, err.Error())
		}
		if bits, err := strconv.Atoi(rest); err == nil {
			return cidr(expr, base, bits)
		}
		mask, err := parseAddr(rest)
		if err != nil {
			return Range{}, invalid(expr, "mask is neither a prefix length nor an address")
		}
		if len(mask) != len(base) {
			return Range{}, invalid(expr, "mask and address families differ")
		}
		return bitmask(base, mask), nil
	}

	if first, last, ok := strings.Cut(s, "-"); ok {
		begin, err := parseAddr(first)
		if err != nil {
			return Range{}, invalid(expr, err.Error())
		}
		end, err := parseAddr(last)
		if err != nil {
			return Range{}, invalid(expr, err.Error())
		}
		if len(begin) != len(end) {
			return Range{}, invalid(expr, "begin and end families differ")
		}
		if !lessOrEqual(begin, end) {
			return Range{}, invalid(expr, "begin is greater than end")
		}
		return Range{Begin: begin, End: end}, nil
	}

	single, err := parseAddr(s)
	if err != nil {
		return Range{}, invalid(expr, err.Error())
	}
	return Range{Begin: single, End: clone(single)}, nil
}

// MustParseRange is like ParseRange but panics on error.
func MustParseRange(expr string) Range {
	r, err := ParseRange(expr)
	if err != nil {
		panic(err)
	}
	return r
}

// Contains reports whether ip lies within r. A malformed ip or an address
// of the other family is not contained.
func (r Range) Contains(ip string) bool {
	addr, err := parseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	return r.ContainsBytes(addr)
}

// ContainsBytes is Contains for an address already in 4 or 16 byte form.
func (r Range) ContainsBytes(addr []byte) bool {
	if len(addr) != len(r.Begin) {
		return false
	}
	return greaterOrEqual(addr, r.Begin) && lessOrEqual(addr, r.End)
}

// IsIPv6 reports whether r holds 16-byte addresses.
func (r Range) IsIPv6() bool {
	return len(r.Begin) == 16
}

// String renders the range as begin-end.
func (r Range) String() string {
	return toAddr(r.Begin).String() + "-" + toAddr(r.End).String()
}

// ContainsAny tests ip against each expression in order and returns the
// first matching expression. A malformed expression is returned as an error
// as soon as it is reached.
func ContainsAny(exprs []string, ip string) (bool, string, error) {
	addr, err := parseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false, "", nil
	}
	for _, expr := range exprs {
		r, err := ParseRange(expr)
		if err != nil {
			return false, "", err
		}
		if r.ContainsBytes(addr) {
			return true, expr, nil
		}
	}
	return false, "", nil
}

// IsAddress reports whether s parses as a single IPv4 or IPv6 address.
func IsAddress(s string) bool {
	_, err := parseAddr(strings.TrimSpace(s))
	return err == nil
}

func cidr(expr string, base []byte, bits int) (Range, error) {
	width := len(base) * 8
	if bits < 0 || bits > width {
		return Range{}, gqerrors.NewValidationError("iprange", "range", expr, "prefix length out of range").
			WithHint("use 0-" + strconv.Itoa(width))
	}
	return bitmask(base, prefixMask(len(base), bits)), nil
}

func bitmask(base, mask []byte) Range {
	return Range{
		Begin: and(base, mask),
		End:   or(base, not(mask)),
	}
}

func prefixMask(size, bits int) []byte {
	mask := make([]byte, size)
	for i := 0; i < size && bits > 0; i++ {
		if bits >= 8 {
			mask[i] = 0xff
			bits -= 8
			continue
		}
		mask[i] = byte(0xff << (8 - bits))
		bits = 0
	}
	return mask
}

func parseAddr(s string) ([]byte, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return nil, err
	}
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	return addr.WithZone("").AsSlice(), nil
}

func toAddr(b []byte) netip.Addr {
	addr, _ := netip.AddrFromSlice(b)
	return addr
}

func invalid(expr, reason string) error {
	return gqerrors.NewValidationError("iprange", "range", expr, reason).
		WithHint("use CIDR (a/n), bitmask (a/m), range (a-b) or a single address")
}
