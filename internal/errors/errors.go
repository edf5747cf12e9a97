// Package errors provides structured error types for reposync.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for reposync.
const (
	// Configuration errors
	CodeCredentialMissing Code = "CREDENTIAL_MISSING"
	CodeConfigInvalid     Code = "CONFIG_INVALID"

	// Project store errors
	CodeProjectNotFound Code = "PROJECT_NOT_FOUND"
	CodeNodeNotFound    Code = "NODE_NOT_FOUND"
	CodeNameTaken       Code = "NAME_TAKEN"

	// Workflow errors
	CodeNothingToExport Code = "NOTHING_TO_EXPORT"
	CodeNoBlobsCreated  Code = "NO_BLOBS_CREATED"
	CodeRunCancelled    Code = "RUN_CANCELLED"

	// Remote repository errors
	CodeRepoNameCollision Code = "REPO_NAME_COLLISION"
	CodeAuthFailed        Code = "AUTH_FAILED"
	CodeRemoteNotFound    Code = "REMOTE_NOT_FOUND"
	CodeRemoteUnavailable Code = "REMOTE_UNAVAILABLE"
)

// Category groups error codes for retry classification and HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeCredentialMissing: CategoryBadRequest,
	CodeConfigInvalid:     CategoryBadRequest,
	CodeProjectNotFound:   CategoryNotFound,
	CodeNodeNotFound:      CategoryNotFound,
	CodeNameTaken:         CategoryConflict,
	CodeNothingToExport:   CategoryBadRequest,
	CodeNoBlobsCreated:    CategoryBadRequest,
	CodeRunCancelled:      CategoryConflict,
	CodeRepoNameCollision: CategoryConflict,
	CodeAuthFailed:        CategoryBadRequest,
	CodeRemoteNotFound:    CategoryNotFound,
	CodeRemoteUnavailable: CategoryUnavailable,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryTimeout:
		return 504
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// Retryable reports whether errors in this category are worth re-executing
// at the step level. Bad input, collisions and missing resources never
// resolve themselves; timeouts and unavailable remotes usually do.
func (c Category) Retryable() bool {
	switch c {
	case CategoryTimeout, CategoryUnavailable, CategoryInternal, CategoryUnknown:
		return true
	default:
		return false
	}
}

// SyncError is the structured error type for reposync.
type SyncError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Category returns the error category.
func (e *SyncError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *SyncError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// Retryable reports whether this error is transient.
func (e *SyncError) Retryable() bool {
	return e.Category().Retryable()
}

// Is reports whether target is a SyncError with the same code.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *SyncError) WithCause(err error) *SyncError {
	return &SyncError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrCredentialMissing returns an error for a missing access credential.
func ErrCredentialMissing(envVar string) *SyncError {
	return &SyncError{
		Code: CodeCredentialMissing,
		What: "access credential is not configured",
		Why:  fmt.Sprintf("No token found in %s or in the workflow input", envVar),
		Fix:  fmt.Sprintf("Set %s or pass a token with the request", envVar),
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *SyncError {
	return &SyncError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check reposync.yaml and fix the invalid field",
	}
}

// ErrProjectNotFound returns an error when a project doesn't exist.
func ErrProjectNotFound(id string) *SyncError {
	return &SyncError{
		Code: CodeProjectNotFound,
		What: fmt.Sprintf("project %s not found", id),
		Why:  "No project with this ID exists in the store",
	}
}

// ErrNodeNotFound returns an error when a file node doesn't exist.
func ErrNodeNotFound(id string) *SyncError {
	return &SyncError{
		Code: CodeNodeNotFound,
		What: fmt.Sprintf("file node %s not found", id),
	}
}

// ErrNameTaken returns an error when a sibling of the same kind already has the name.
func ErrNameTaken(kind, name string) *SyncError {
	return &SyncError{
		Code: CodeNameTaken,
		What: fmt.Sprintf("a %s named %q already exists in this folder", kind, name),
		Why:  "Names must be unique among siblings of the same kind",
		Fix:  "Choose a different name",
	}
}

// ErrNothingToExport returns an error when a project has no files.
func ErrNothingToExport(projectID string) *SyncError {
	return &SyncError{
		Code: CodeNothingToExport,
		What: "no files to export",
		Why:  fmt.Sprintf("Project %s contains no file entries", projectID),
		Fix:  "Add at least one file to the project before exporting",
	}
}

// ErrNoBlobsCreated returns an error when every blob upload failed.
func ErrNoBlobsCreated() *SyncError {
	return &SyncError{
		Code: CodeNoBlobsCreated,
		What: "failed to create any file blobs",
		Why:  "Every per-file blob upload failed or was skipped",
	}
}

// ErrRunCancelled returns an error for a cancelled workflow run.
func ErrRunCancelled(projectID string) *SyncError {
	return &SyncError{
		Code: CodeRunCancelled,
		What: fmt.Sprintf("run for project %s was cancelled", projectID),
	}
}

// ErrRepoNameCollision returns an error when the repository name is taken.
func ErrRepoNameCollision(name string) *SyncError {
	return &SyncError{
		Code: CodeRepoNameCollision,
		What: fmt.Sprintf("repository %q already exists", name),
		Why:  "The remote account already has a repository with this name",
		Fix:  "Export with a different repository name",
	}
}

// ErrAuthFailed returns an error for a rejected credential.
func ErrAuthFailed() *SyncError {
	return &SyncError{
		Code: CodeAuthFailed,
		What: "remote authentication failed",
		Why:  "The access token was rejected by the remote API",
		Fix:  "Provide a valid token with repo scope",
	}
}

// ErrRemoteNotFound returns an error for a missing remote resource.
func ErrRemoteNotFound(what string) *SyncError {
	return &SyncError{
		Code: CodeRemoteNotFound,
		What: fmt.Sprintf("%s not found on remote", what),
	}
}

// ErrRemoteUnavailable returns an error for a transient remote failure.
func ErrRemoteUnavailable(what string) *SyncError {
	return &SyncError{
		Code: CodeRemoteUnavailable,
		What: fmt.Sprintf("remote API unavailable during %s", what),
		Why:  "The remote returned a server error or the request timed out",
	}
}

// AsSyncError attempts to convert an error to a SyncError.
// Returns nil if the error is not a SyncError.
func AsSyncError(err error) *SyncError {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}
	return nil
}

// Retryable reports whether err may succeed on a re-execution.
// Unclassified errors are treated as transient so network blips retry.
func Retryable(err error) bool {
	if e := AsSyncError(err); e != nil {
		return e.Retryable()
	}
	return true
}

// Wrap wraps a generic error into a SyncError with unknown code.
func Wrap(err error, what string) *SyncError {
	return &SyncError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
