package sandbox

import "errors"

var (
	ErrInvalidFormat    = errors.New("sandbox: invalid format")
	ErrSignatureInvalid = errors.New("sandbox: signature invalid")
	ErrCapabilityDenied = errors.New("sandbox: capability denied")
	ErrTrap             = errors.New("sandbox: guest trap")
)
