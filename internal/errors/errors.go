package errors

import (
	"errors"
	"fmt"
)

// Domain-specific error types
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicateEntry indicates a unique constraint violation
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthentication indicates the mail server rejected the credentials
	ErrAuthentication = errors.New("authentication failed")

	// ErrMailbox indicates the mail server rejected a select or search
	ErrMailbox = errors.New("mailbox operation failed")

	// ErrMessageFetch indicates a single message could not be retrieved
	ErrMessageFetch = errors.New("message fetch failed")

	// ErrUnsupportedCriterion indicates a fetch criterion the protocol cannot serve
	ErrUnsupportedCriterion = errors.New("unsupported fetching criterion")

	// ErrParse indicates raw bytes that are not a mail message
	ErrParse = errors.New("message could not be parsed")

	// ErrImport indicates a failed import transaction
	ErrImport = errors.New("message import failed")

	// ErrStorage indicates a blob store read or write failure
	ErrStorage = errors.New("storage operation failed")

	// ErrStorageIntegrity indicates a broken shard invariant
	ErrStorageIntegrity = errors.New("storage integrity violated")

	// ErrConnection indicates the index database could not be reached
	ErrConnection = errors.New("connection unavailable")

	// ErrParentUnhealthy indicates a child marked healthy under an unhealthy parent
	ErrParentUnhealthy = errors.New("parent is unhealthy")

	// ErrSpam indicates a message discarded by the spam filter
	ErrSpam = errors.New("message flagged as spam")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)

// Error codes for logs and the ops API
const (
	CodeNotFound             = "NOT_FOUND"
	CodeDuplicateEntry       = "DUPLICATE_ENTRY"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeAuthentication       = "AUTHENTICATION_FAILED"
	CodeMailbox              = "MAILBOX_ERROR"
	CodeMessageFetch         = "FETCH_FAILED"
	CodeUnsupportedCriterion = "UNSUPPORTED_CRITERION"
	CodeParse                = "PARSE_FAILED"
	CodeImport               = "IMPORT_FAILED"
	CodeStorage              = "STORAGE_ERROR"
	CodeStorageIntegrity     = "STORAGE_INTEGRITY"
	CodeConnection           = "CONNECTION_ERROR"
	CodeParentUnhealthy      = "PARENT_UNHEALTHY"
	CodeSpam                 = "SPAM"
	CodeInternalError        = "INTERNAL_ERROR"
)

// AppError represents an application error with context
type AppError struct {
	Err     error
	Message string
	Code    string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(err error, message string, code string) *AppError {
	return &AppError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// FetchError is a protocol failure. Err wraps ErrAuthentication, ErrMailbox
// or ErrMessageFetch together with the server's diagnostic.
type FetchError struct {
	Op      string
	Account string
	Err     error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	if e.Account == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Account, e.Err)
}

// Unwrap returns the underlying error
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps a server diagnostic under kind
func NewFetchError(op, account string, kind, cause error) *FetchError {
	if cause == nil {
		return &FetchError{Op: op, Account: account, Err: kind}
	}
	return &FetchError{Op: op, Account: account, Err: fmt.Errorf("%w: %v", kind, cause)}
}

// ImportError carries the identity of a message whose import was rolled back
type ImportError struct {
	MessageID string
	Subject   string
	Err       error
}

// Error implements the error interface
func (e *ImportError) Error() string {
	return fmt.Sprintf("import of %q (%q) failed: %v", e.MessageID, e.Subject, e.Err)
}

// Unwrap returns the underlying error
func (e *ImportError) Unwrap() error {
	return e.Err
}

// Is makes every ImportError match ErrImport
func (e *ImportError) Is(target error) bool {
	return target == ErrImport
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateEntry checks if the error is a duplicate entry error
func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

// IsInvalidInput checks if the error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsAuthentication checks if the error is a rejected login
func IsAuthentication(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// IsMessageLevel reports whether err affects a single message only
func IsMessageLevel(err error) bool {
	return errors.Is(err, ErrMessageFetch) ||
		errors.Is(err, ErrParse) ||
		errors.Is(err, ErrImport) ||
		errors.Is(err, ErrSpam)
}

// GetFetchError extracts a FetchError from an error chain
func GetFetchError(err error) *FetchError {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr
	}
	return nil
}

// GetImportError extracts an ImportError from an error chain
func GetImportError(err error) *ImportError {
	var importErr *ImportError
	if errors.As(err, &importErr) {
		return importErr
	}
	return nil
}

// GetErrorCode returns the appropriate error code for an error
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}

	switch {
	case IsNotFound(err):
		return CodeNotFound
	case IsDuplicateEntry(err):
		return CodeDuplicateEntry
	case IsInvalidInput(err):
		return CodeInvalidInput
	case IsAuthentication(err):
		return CodeAuthentication
	case errors.Is(err, ErrMailbox):
		return CodeMailbox
	case errors.Is(err, ErrMessageFetch):
		return CodeMessageFetch
	case errors.Is(err, ErrUnsupportedCriterion):
		return CodeUnsupportedCriterion
	case errors.Is(err, ErrParse):
		return CodeParse
	case errors.Is(err, ErrSpam):
		return CodeSpam
	case errors.Is(err, ErrImport):
		return CodeImport
	case errors.Is(err, ErrStorageIntegrity):
		return CodeStorageIntegrity
	case errors.Is(err, ErrStorage):
		return CodeStorage
	case errors.Is(err, ErrConnection):
		return CodeConnection
	case errors.Is(err, ErrParentUnhealthy):
		return CodeParentUnhealthy
	default:
		return CodeInternalError
	}
}
