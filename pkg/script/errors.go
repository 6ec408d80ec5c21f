package script

import (
	"errors"
	"fmt"
)

var (
	ErrClosed          = errors.New("script is unloaded")
	ErrCompile         = errors.New("script failed to load")
	ErrCallbackTimeout = errors.New("callback exceeded its time budget")
	ErrPanic           = errors.New("capability panicked")
	ErrNotArray        = errors.New("data is not an array")
	ErrArrayTooLong    = errors.New("data array is too long")
)

// A failure while running a script callback.
// The script stays loaded, only the faulty invocation is lost.
type Fault struct {
	Script   string
	Callback Callback
	Err      error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("script %v fault in %v : %v", f.Script, f.Callback, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}
