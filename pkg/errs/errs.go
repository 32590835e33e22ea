// Package errs defines the sentinel error kinds used across the engine
// (§7, §7.A). Call sites wrap one of these with fmt.Errorf("%w: ...", Err*,
// detail) so callers can classify failures with errors.Is rather than
// string matching.
package errs

import "errors"

var (
	ErrInitialization         = errors.New("initialization failed")
	ErrInvalidInput           = errors.New("invalid input")
	ErrBusinessRuleViolation  = errors.New("business rule violation")
	ErrPersistentStateCorrupt = errors.New("persistent state corrupted")
	ErrFatal                  = errors.New("fatal error")
)
