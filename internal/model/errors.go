package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyRunning = errors.New("agent already running")
	ErrNotRunning     = errors.New("agent not running")

	// policy gate denials, both unwrap to ErrDenied
	ErrDenied         = errors.New("run denied")
	ErrTargetNotAlive = fmt.Errorf("%w: target not alive", ErrDenied)
	ErrAlreadyRan     = fmt.Errorf("%w: agent ran before", ErrDenied)
)
