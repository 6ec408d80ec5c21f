package config

import "errors"

var (
	ErrInvalidValue   = errors.New("invalid configuration value")
	ErrInvalidSection = errors.New("invalid configuration section")
	ErrMissingKey     = errors.New("missing configuration key")
)
