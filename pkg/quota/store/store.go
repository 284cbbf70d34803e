package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
)

// Store is a keyed value store with per-entry expiration. Counter stores
// hold quota.Counter values and policy stores hold quota.Policy values.
type Store[V any] interface {
	// Get returns the value for key and whether it exists and is unexpired.
	Get(ctx context.Context, key string) (V, bool, error)

	// Set stores value under key. A positive ttl expires the entry after
	// that long; zero keeps it until removed.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error

	// Exists reports whether key holds an unexpired value.
	Exists(ctx context.Context, key string) (bool, error)

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

var (
	_ Store[struct{}] = (*Memory[struct{}])(nil)
	_ Store[struct{}] = (*Redis[struct{}])(nil)
)

// RedisError represents a failed Redis operation. It matches
// errors.ErrBackendUnavailable, and errors.ErrTimeout when the round trip
// ran out of time.
type RedisError struct {
	Operation string
	Key       string
	Err       error
}

func (e *RedisError) Error() string {
	return fmt.Sprintf("redis %s %q: %v", e.Operation, e.Key, e.Err)
}

func (e *RedisError) Unwrap() error {
	return e.Err
}

func (e *RedisError) Is(target error) bool {
	switch target {
	case gqerrors.ErrBackendUnavailable:
		return true
	case gqerrors.ErrTimeout:
		return e.Timeout()
	}
	return false
}

// Timeout reports whether the operation failed on a deadline, either the
// context's or a network read or write timeout.
func (e *RedisError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// DecodeError reports a stored value that could not be decoded.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
