package predicate

import "errors"

var ErrInvalidFormat = errors.New("predicate: invalid format")
