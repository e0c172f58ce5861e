package loop

import "errors"

var (
	ErrAlreadyRunning = errors.New("loop already running")
)
