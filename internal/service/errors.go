package service

import "errors"

// Error kinds. Handlers map them to HTTP status codes with errors.Is.
var (
	ErrInvalid         = errors.New("invalid request")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrInternal        = errors.New("internal error")
)

// Error is a client-facing failure: Msg is safe to show, Kind classifies it.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

var (
	ErrCredentialsRequired = newError(ErrInvalid, "Username and password are required")
	ErrInvalidUsername     = newError(ErrInvalid, "Username contains invalid characters.")
	ErrUserExists          = newError(ErrInvalid, "User already exists in this instance")
	ErrInvalidCredentials  = newError(ErrUnauthenticated, "Invalid credentials")
	ErrLoginRequired       = newError(ErrUnauthenticated, "Login required")

	ErrEmptyContent    = newError(ErrInvalid, "Empty content")
	ErrNoFile          = newError(ErrInvalid, "No file provided")
	ErrNoFileSelected  = newError(ErrInvalid, "No file selected")
	ErrFileTooLarge    = newError(ErrInvalid, "File size exceeds 20KB limit.")
	ErrInvalidFilename = newError(ErrInvalid, "Invalid filename")
	ErrNoteNotFound    = newError(ErrNotFound, "Note not found")
	ErrFileNotFound    = newError(ErrNotFound, "File not found")
	ErrDownloadDenied  = newError(ErrForbidden, "Unauthorized access")
	ErrSaveFile        = newError(ErrInternal, "Error saving file")
	ErrDeleteFile      = newError(ErrInternal, "Error deleting file")

	ErrInvalidURL = newError(ErrInvalid, "URL not valid")
	ErrTooMany    = newError(ErrRateLimited, "Too many visits, slow down")
	ErrBotCrash   = newError(ErrInternal, "Bot crash...")
)
