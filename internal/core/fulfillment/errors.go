package fulfillment

import "errors"

var (
	// ErrInactivePerson rejects fulfillment for a deactivated insured person
	ErrInactivePerson = errors.New("insured person is inactive")

	// ErrAlreadyFulfilled indicates a sale already references the
	// prescription; a prescription is fulfillable at most once
	ErrAlreadyFulfilled = errors.New("prescription already fulfilled")

	// ErrInvalidArgument rejects malformed requests (empty ids, empty
	// prescriptions) before any state is touched
	ErrInvalidArgument = errors.New("invalid argument")
)
