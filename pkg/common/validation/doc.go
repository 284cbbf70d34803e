// Package validation provides common validation utilities for configuration
// parameters across the goquota library.
//
// Every helper returns a *errors.ValidationError, so callers can test for
// configuration problems with errors.Is(err, errors.ErrInvalidConfiguration).
package validation
