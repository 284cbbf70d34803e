package engine

import (
	"strings"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
)

// FailurePolicy decides what Evaluate does when a counter or policy
// backend is unavailable.
type FailurePolicy int

const (
	// FailureReturnError surfaces the backend error to the caller.
	FailureReturnError FailurePolicy = iota

	// FailureAllow lets the request through (fail open).
	FailureAllow

	// FailureBlock rejects the request (fail closed) with
	// DefaultUnavailableStatus and no retry-after.
	FailureBlock
)

// DefaultUnavailableStatus is the status of a FailureBlock response.
const DefaultUnavailableStatus = 503

func (f FailurePolicy) String() string {
	switch f {
	case FailureReturnError:
		return "error"
	case FailureAllow:
		return "allow"
	case FailureBlock:
		return "block"
	default:
		return "unknown"
	}
}

// ParseFailurePolicy maps "error", "allow" or "block" to a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error":
		return FailureReturnError, nil
	case "allow", "open":
		return FailureAllow, nil
	case "block", "closed":
		return FailureBlock, nil
	}
	return 0, gqerrors.NewValidationError("engine", "failure_policy", s, "unknown failure policy").
		WithHint("use error, allow or block")
}
