package services

import "fmt"

// Error codes surfaced on the wire. store_unavailable is the only code the
// client may retry as-is; session_not_found tells it to restart from initiate.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeInvalidMediaType = "invalid_media_type"
	CodeSizeExceeded     = "size_exceeded"
	CodeQuotaExceeded    = "quota_exceeded"
	CodePartOutOfRange   = "part_out_of_range"
	CodeIncompleteUpload = "incomplete_upload"
	CodeSessionTerminal  = "session_terminal"
	CodeAlreadyCompleted = "already_completed"
	CodeSessionNotFound  = "session_not_found"
	CodeForbidden        = "forbidden"
	CodeStoreUnavailable = "store_unavailable"
	CodeInternalError    = "internal_error"
)

type AppError struct {
	HTTPCode int
	Code     string
	Message  string
	Data     interface{}
	Err      error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newAppError(httpCode int, code string, message string, err error) *AppError {
	return &AppError{HTTPCode: httpCode, Code: code, Message: message, Err: err}
}

func newAppErrorWithData(httpCode int, code string, message string, data interface{}, err error) *AppError {
	return &AppError{HTTPCode: httpCode, Code: code, Message: message, Data: data, Err: err}
}
