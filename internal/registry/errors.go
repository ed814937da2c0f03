package registry

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("account not found")
	ErrAlreadyConfigured = errors.New("account is already configured")
	ErrAlreadyPending    = errors.New("account is already pending")
	ErrUnknownMaster     = errors.New("unknown master")
	ErrUnknownSlave      = errors.New("unknown slave")
	ErrAlreadyConnected  = errors.New("slave is connected to another master")
	ErrRoleConflict      = errors.New("direct master/slave conversion must pass through pending")
	ErrInvalidRole       = errors.New("invalid target role")
	ErrNotMaster         = errors.New("account is not a master")
	ErrNotSlave          = errors.New("account is not a slave")
	ErrNotConfigured     = errors.New("account has no master/slave role")
	ErrInvalidAccount    = errors.New("record has no account id")
)

// StateConflictError is returned when an operation does not fit the current
// registry state. The registry is unchanged.
type StateConflictError struct {
	Op        string
	AccountID string
	Err       error
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.AccountID, e.Err)
}

func (e *StateConflictError) Unwrap() error { return e.Err }

func conflict(op, id string, err error) error {
	return &StateConflictError{Op: op, AccountID: id, Err: err}
}

// NotFoundError is returned for an unknown account id.
type NotFoundError struct {
	Op        string
	AccountID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.AccountID, ErrNotFound)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func notFound(op, id string) error {
	return &NotFoundError{Op: op, AccountID: id}
}
