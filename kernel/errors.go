package kernel

import "errors"

var (
	ErrNoProc       = errors.New("no free process slot")
	ErrNoChildren   = errors.New("no children")
	ErrKilled       = errors.New("process killed")
	ErrBadTickets   = errors.New("ticket count must be positive")
	ErrNoSuchPid    = errors.New("no such process")
	ErrStarted      = errors.New("kernel already started")
	ErrAlarmPending = errors.New("alarm handler still running")
)
