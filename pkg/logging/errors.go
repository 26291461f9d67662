package logging

import (
	"fmt"
	"log/slog"
)

type ErrorCode string

const (
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeTimeout      ErrorCode = "TIMEOUT_ERROR"
	ErrCodeCancelled    ErrorCode = "CANCELLED"
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"
	ErrCodeTooLarge     ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrCodeUnsupported  ErrorCode = "UNSUPPORTED_MEDIA_TYPE"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeOutOfRange   ErrorCode = "PARAMETER_OUT_OF_RANGE"
)

// AppError is the job-processing service's structured error type. Handlers
// render it as an RFC 7807 problem+json body; the archive path logs it and
// moves on rather than surface it to a caller.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Operation string                 `json:"operation,omitempty"`
	JobID     string                 `json:"job_id,omitempty"`
	Filename  string                 `json:"filename,omitempty"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Severity  string                 `json:"severity"`
}

// NewError creates a new AppError with default severity "error".
func NewError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Severity: "error",
		Context:  make(map[string]interface{}),
	}
}

// NewWarning creates an AppError with severity "warning".
func NewWarning(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Severity: "warning",
		Context:  make(map[string]interface{}),
	}
}

func (e *AppError) WithOperation(op string) *AppError {
	e.Operation = op
	return e
}

func (e *AppError) WithJob(jobID string) *AppError {
	e.JobID = jobID
	return e
}

func (e *AppError) WithFile(filename string) *AppError {
	e.Filename = filename
	return e
}

func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// LogValue implements slog.LogValuer for structured logging.
func (e *AppError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("error_code", string(e.Code)),
		slog.String("message", e.Message),
		slog.String("severity", e.Severity),
	}

	if e.Operation != "" {
		attrs = append(attrs, slog.String("operation", e.Operation))
	}
	if e.JobID != "" {
		attrs = append(attrs, slog.String("job_id", e.JobID))
	}
	if e.Filename != "" {
		attrs = append(attrs, slog.String("filename", e.Filename))
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}

	if len(e.Context) > 0 {
		contextAttrs := make([]any, 0, len(e.Context)*2)
		for k, v := range e.Context {
			contextAttrs = append(contextAttrs, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("context", contextAttrs...))
	}

	return slog.GroupValue(attrs...)
}

// IsRetryable returns true if the error is transient.
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeRateLimit, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error code to the HTTP status spec.md's error table names.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidation, ErrCodeUnsupported:
		return 400
	case ErrCodeUnauthorized:
		return 401
	case ErrCodeNotFound:
		return 404
	case ErrCodeConflict, ErrCodeCancelled:
		return 409
	case ErrCodeOutOfRange:
		return 422
	case ErrCodeTooLarge:
		return 413
	case ErrCodeRateLimit:
		return 429
	case ErrCodeTimeout:
		return 408
	case ErrCodeUnavailable:
		return 503
	default:
		return 500
	}
}

// Common error constructors, named for the job-processing domain.

func ErrValidation(field, message string) *AppError {
	return NewError(ErrCodeValidation, message).
		WithContext("field", field).
		WithOperation("validation")
}

func ErrUnsupportedExtension(filename string) *AppError {
	return NewError(ErrCodeUnsupported, fmt.Sprintf("file extension not allowed: %s", filename)).
		WithFile(filename).
		WithOperation("upload")
}

func ErrEmptyFile(filename string) *AppError {
	return NewError(ErrCodeValidation, "uploaded file is empty").
		WithFile(filename).
		WithOperation("upload")
}

func ErrInvalidFilename(filename string) *AppError {
	return NewError(ErrCodeValidation, "filename is invalid").
		WithFile(filename).
		WithOperation("upload")
}

func ErrParameterOutOfRange(field, message string) *AppError {
	return NewError(ErrCodeOutOfRange, message).
		WithContext("field", field).
		WithOperation("validation")
}

func ErrTooLarge(limit int64) *AppError {
	return NewError(ErrCodeTooLarge, "upload exceeds maximum size").
		WithContext("max_bytes", limit).
		WithOperation("upload")
}

func ErrJobNotFound(jobID string) *AppError {
	return NewError(ErrCodeNotFound, "job not found").
		WithJob(jobID).
		WithOperation("lookup")
}

func ErrOutputNotReady(jobID string, state string) *AppError {
	return NewError(ErrCodeConflict, fmt.Sprintf("job is %s, output not available", state)).
		WithJob(jobID).
		WithContext("state", state).
		WithOperation("download")
}

func ErrInvalidTransition(jobID, from, to string) *AppError {
	return NewError(ErrCodeConflict, fmt.Sprintf("cannot transition job from %s to %s", from, to)).
		WithJob(jobID).
		WithOperation("transition")
}

func ErrAlreadyTerminal(jobID, state string) *AppError {
	return NewError(ErrCodeConflict, fmt.Sprintf("job already %s", state)).
		WithJob(jobID).
		WithOperation("cancel")
}

func ErrProcessing(jobID string, cause error) *AppError {
	return NewError(ErrCodeInternal, "processing failed").
		WithJob(jobID).
		WithCause(cause).
		WithOperation("process")
}

func ErrTimeout(jobID string, timeout interface{}) *AppError {
	return NewError(ErrCodeTimeout, "processing timed out").
		WithJob(jobID).
		WithContext("timeout", timeout).
		WithOperation("process")
}

func ErrInternal(message string, cause error) *AppError {
	return NewError(ErrCodeInternal, message).
		WithCause(cause).
		WithOperation("internal")
}

func ErrUnavailable(message string) *AppError {
	return NewError(ErrCodeUnavailable, message).
		WithOperation("admission")
}

func ErrRateLimit(limit int, window string) *AppError {
	return NewError(ErrCodeRateLimit, "rate limit exceeded").
		WithContext("limit", limit).
		WithContext("window", window)
}

// ErrArchive creates a non-blocking archive warning — archive failures never
// change a job's terminal state.
func ErrArchive(jobID string, cause error) *AppError {
	return NewWarning(ErrCodeInternal, "output archive upload failed").
		WithJob(jobID).
		WithCause(cause).
		WithOperation("archive").
		WithContext("non_blocking", true)
}
