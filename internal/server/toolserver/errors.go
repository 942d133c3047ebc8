package toolserver

import "errors"

var (
	ErrNilRegistry    = errors.New("engine registry is nil")
	ErrAlreadyRunning = errors.New("tool server is already running")
)
