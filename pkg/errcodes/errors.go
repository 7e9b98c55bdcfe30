package errcodes

import (
	"fmt"
	"net/http"
)

type Error struct {
	HTTPCode int
	Message  string
	Code     string
}

func (err *Error) Error() string {
	return err.Message
}

func (err *Error) As(target interface{}) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	te.HTTPCode = err.HTTPCode
	te.Message = err.Message
	te.Code = err.Code
	return true
}

func (err *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.HTTPCode == err.HTTPCode &&
		te.Message == err.Message &&
		te.Code == err.Code
}

// Forbidden returns a 403 error with a message indicating the action is
// forbidden.
func Forbidden(action string) error {
	return &Error{
		http.StatusForbidden,
		action + " is not allowed.",
		"forbidden",
	}
}

// NotFound returns a 404 error with a message indicating the given resource.
func NotFound(resource string) error {
	return &Error{
		http.StatusNotFound,
		resource + " not found.",
		"not_found",
	}
}

func UnsupportedMediaType() error {
	return &Error{
		http.StatusUnsupportedMediaType,
		"Unsupported Media Type",
		"unsupported_media_type",
	}
}

func UnknownParameter(param string) error {
	return &Error{
		http.StatusUnprocessableEntity,
		fmt.Sprintf("Unknown Parameter %q", param),
		"unknown_parameter",
	}
}

func ValidationTypeError(msg string) error {
	return &Error{
		http.StatusUnprocessableEntity,
		msg,
		"validation_type_error",
	}
}

func ValidationError(msg string) error {
	return &Error{
		http.StatusUnprocessableEntity,
		msg,
		"validation_error",
	}
}

func MalformedPayload() error {
	return &Error{
		http.StatusBadRequest,
		"Malformed Payload",
		"malformed_payload",
	}
}

func EmptyRequestBody() error {
	return &Error{
		http.StatusBadRequest,
		"Request body can't be empty.",
		"empty_request_body",
	}
}

// AuthRequired returns a 401 error indicating the user needs to sign in to
// Google again before syncing can continue.
func AuthRequired() error {
	return &Error{
		http.StatusUnauthorized,
		"Google sign-in required.",
		"auth_required",
	}
}

// SyncInProgress returns a 409 error for requests that would start a second
// concurrent sync run.
func SyncInProgress() error {
	return &Error{
		http.StatusConflict,
		"A sync is already in progress.",
		"sync_in_progress",
	}
}

// SyncDisabled returns a 409 error for sync requests while sync is turned off
// or no account is connected.
func SyncDisabled() error {
	return &Error{
		http.StatusConflict,
		"Sync is disabled.",
		"sync_disabled",
	}
}

// StorageQuotaExceeded returns a 507 error when Google Drive rejects an upload
// because the account is out of storage.
func StorageQuotaExceeded() error {
	return &Error{
		http.StatusInsufficientStorage,
		"Google Drive storage quota exceeded.",
		"storage_quota_exceeded",
	}
}

// IntegrityError returns a 500 error for sync identity violations such as
// duplicate or missing sync IDs.
func IntegrityError(msg string) error {
	return &Error{
		http.StatusInternalServerError,
		msg,
		"integrity_error",
	}
}
