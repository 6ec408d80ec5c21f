package gateway

import "errors"

var ErrInvalidData = errors.New("invalid hex data")
