package models

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrNotOnline        = errors.New("database is not online")
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrRecordNotFound   = errors.New("record not found")
	ErrUnknownEntity    = errors.New("unknown entity")
	ErrUnknownViewModel = errors.New("unknown view model")
	ErrSchemaMalformed  = errors.New("malformed schema document")
	ErrStoreClosed      = errors.New("store is closed")
)

// ValidationKind identifies which rule a local write violated.
type ValidationKind string

const (
	ValidationRequired   ValidationKind = "required"
	ValidationTypeError  ValidationKind = "typeError"
	ValidationMaxValue   ValidationKind = "maxValue"
	ValidationMinValue   ValidationKind = "minValue"
	ValidationMaxLength  ValidationKind = "maxLength"
	ValidationMinLength  ValidationKind = "minLength"
	ValidationRegex      ValidationKind = "regex"
	ValidationUnknownKey ValidationKind = "unknownKey"
	ValidationToMany     ValidationKind = "toMany"
	ValidationToOne      ValidationKind = "toOne"
)

// ValidationError reports a rejected local write. It is always
// synchronous and never retried automatically.
type ValidationError struct {
	Entity string
	Field  string
	Kind   ValidationKind
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("validation %s: %s.%s: %s", e.Kind, e.Entity, e.Field, e.Detail)
	}
	return fmt.Sprintf("validation %s: %s.%s", e.Kind, e.Entity, e.Field)
}

// SyncPhase identifies which half of a sync cycle failed.
type SyncPhase string

const (
	PhasePush SyncPhase = "push"
	PhasePull SyncPhase = "pull"
)

// SyncError reports a failed push or pull. Safe to retry on the next
// scheduled cycle; dirty flags are left untouched on push failure.
type SyncError struct {
	Phase   SyncPhase
	Code    int // server error code, 0 if none
	Message string
	Payload any // in-flight request body, for diagnostics
	Err     error
}

func (e *SyncError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("sync %s: %v", e.Phase, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("sync %s: server error %d: %s", e.Phase, e.Code, e.Message)
	default:
		return fmt.Sprintf("sync %s: %s", e.Phase, e.Message)
	}
}

func (e *SyncError) Unwrap() error { return e.Err }

// ConflictError reports a push the server accepted only partially. It
// is not retryable as-is: the caller must reconcile the rejected
// objects/fields (discard local changes, prompt the user) before the
// rows can be pushed again.
type ConflictError struct {
	// RejectedObjects maps record identifier to a server error code.
	RejectedObjects map[string]int
	// RejectedFields maps record identifier to field name to code.
	RejectedFields map[string]map[string]int
	// Payload is the original push body, keyed by entity name.
	Payload map[string][]Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync push conflict: %d rejected objects, %d records with rejected fields",
		len(e.RejectedObjects), len(e.RejectedFields))
}

// APIError is a non-200 response from the server.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Body       string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// OpenError wraps any failure during the initialization chain (schema
// fetch, storage open, truncate-and-reopen). Initialization does not
// retry automatically.
type OpenError struct {
	Stage string // "fetch-schema", "translate", "open-store", "truncate"
	Err   error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("database open failed at %s: %v", e.Stage, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }
