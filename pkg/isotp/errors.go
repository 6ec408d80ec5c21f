package isotp

import "errors"

var (
	ErrTimeout         = errors.New("isotp timeout")
	ErrOutOfSequence   = errors.New("consecutive frame out of sequence")
	ErrInvalidFrame    = errors.New("invalid isotp frame")
	ErrUnexpectedFrame = errors.New("consecutive frame without first frame")
	ErrTooLong         = errors.New("isotp message longer than 4095 bytes")
	ErrEmpty           = errors.New("isotp message is empty")
	ErrOverflow        = errors.New("receiver reported buffer overflow")
)
