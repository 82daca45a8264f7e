package services

import "errors"

type ErrorCode int

const (
	ErrorInvalid ErrorCode = iota
	ErrorUnauthorized
	ErrorForbidden
	ErrorNotFound
	ErrorConflict
	ErrorInternal
)

type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error  { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}
func NewInternalError(msg string) error { return &ServiceError{Code: ErrorInternal, Message: msg} }

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Sentinels returned by store implementations on the submit path so the
// service layer can translate them into the right client-facing errors.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionCompleted = errors.New("session already completed")
	ErrSessionExpired   = errors.New("session expired")
	ErrDuplicateForm    = errors.New("form type already submitted")
	ErrTaskLimit        = errors.New("posttask submission limit reached")
)
