package state

import "errors"

var (
	ErrNotFound         = errors.New("state: not found")
	ErrSignatureInvalid = errors.New("state: signature invalid")
	ErrAlreadyVoted     = errors.New("state: already voted")
	ErrRejected         = errors.New("state: rejected")
	ErrDuplicateContent = errors.New("state: duplicate content")
	ErrInvalidFormat    = errors.New("state: invalid format")

	errHashLength = errors.New("state: hash has wrong length")
)
