// Package common defines sentinel errors and small helpers shared by the
// TempFiles server layers. Callers should use errors.Is to match the errors.
package common

import "errors"

var (
	// ErrNotFound covers absent resources, unknown or expired correlation ids,
	// and ownership mismatches. The cases are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrInvalidSession is returned when a presented session secret does not
	// validate.
	ErrInvalidSession = errors.New("invalid session")

	// ErrVerification is returned when the ceremony verifier rejects a response.
	ErrVerification = errors.New("verification failed")

	ErrBadRequest = errors.New("bad request")

	// infrastructure errors
	ErrStorage     = errors.New("storage error")
	ErrPersistence = errors.New("persistence error")
)
