package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidConfig      = errors.New("invalid matching configuration")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrTaskNotCancellable = errors.New("task is already in a terminal state")
	ErrEnumerationBudget  = errors.New("group enumeration exceeds the subset evaluation budget")
)
