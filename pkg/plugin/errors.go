package plugin

import "errors"

var (
	ErrNotFound         = errors.New("plugin: not found")
	ErrInvalidFormat    = errors.New("plugin: invalid format")
	ErrSignatureInvalid = errors.New("plugin: signature invalid")
)
