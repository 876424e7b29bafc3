package supervisor

import (
	"errors"
	"fmt"
)

var (
	ErrLaunch             = errors.New("launch failed")
	ErrDuplicateName      = errors.New("process name already running")
	ErrNothingToSupervise = errors.New("no process left to supervise")
)

// LaunchError wraps a failure to start a child.
type LaunchError struct {
	Name string
	Err  error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("launch %s: %v", e.Name, e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }
func (e *LaunchError) Is(target error) bool {
	return target == ErrLaunch
}
