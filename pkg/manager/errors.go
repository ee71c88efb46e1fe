package manager

import "errors"

// ErrInvalidBucket wraps validation failures on bucket create and update.
var ErrInvalidBucket = errors.New("invalid bucket parameters")
