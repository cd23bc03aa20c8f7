package files

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a service error for the transport layer
type ErrorCode int

const (
	CodeUnauthorized ErrorCode = iota + 1
	CodeValidation
	CodeNotFound
	CodeBadRequest
)

// Error is a client-facing failure. Message is the wire string.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrUnauthorized    = &Error{Code: CodeUnauthorized, Message: "Unauthorized"}
	ErrMissingName     = &Error{Code: CodeValidation, Message: "Missing name"}
	ErrMissingType     = &Error{Code: CodeValidation, Message: "Missing type"}
	ErrMissingData     = &Error{Code: CodeValidation, Message: "Missing data"}
	ErrInvalidData     = &Error{Code: CodeValidation, Message: "Invalid data"}
	ErrInvalidBody     = &Error{Code: CodeValidation, Message: "Invalid request body"}
	ErrParentNotFound  = &Error{Code: CodeValidation, Message: "Parent not found"}
	ErrParentNotFolder = &Error{Code: CodeValidation, Message: "Parent is not a folder"}
	ErrNotFound        = &Error{Code: CodeNotFound, Message: "Not found"}
	ErrFolderContent   = &Error{Code: CodeBadRequest, Message: "A folder doesn't have content"}
)

// ErrRecordNotFound is returned by a Catalog when no record matches
var ErrRecordNotFound = errors.New("record not found")

// DispatchWarning reports a failed post-processing enqueue. The upload it
// belongs to has still succeeded.
type DispatchWarning struct {
	Queue  string
	FileID string
	Err    error
}

func (w *DispatchWarning) Error() string {
	return fmt.Sprintf("failed to enqueue %s job for file %s: %v", w.Queue, w.FileID, w.Err)
}

func (w *DispatchWarning) Unwrap() error {
	return w.Err
}
