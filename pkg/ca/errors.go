package ca

import "errors"

var (
	ErrInvalidFormat = errors.New("ca: invalid format")
	ErrIO            = errors.New("ca: io")
)
