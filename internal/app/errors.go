package app

import (
	"errors"
	"fmt"

	"github.com/evanschultz/poa/internal/domain"
)

// Error kinds returned by the engine. Match them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("invalid request")
	ErrUnauthorizedActor = domain.ErrUnauthorizedActor
	ErrAlreadyFinalized  = domain.ErrAlreadyFinalized
	ErrAlreadyApproved   = domain.ErrAlreadyApproved
	ErrTimedOut          = errors.New("timed out waiting for settlement confirmation")
	ErrClosed            = errors.New("engine closed")
)

// validationError tags a domain validation failure with ErrValidation.
func validationError(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
