package article

import (
	"errors"
	"fmt"
	"strings"
)

// Messages shown to the user.
const (
	MsgFillAllFields = "Please fill all the fields"
	MsgArticleAdded  = "Article added successfully"
	MsgArticleFailed = "Error adding article"
	MsgUploadFailed  = "Error uploading image"
)

var (
	// ErrFormNotFound is returned when a form ID is unknown.
	ErrFormNotFound = errors.New("form not found")
	// ErrUnknownField is returned by SetField for names other than title and description.
	ErrUnknownField = errors.New("unknown form field")
	// ErrTooManyForms is returned by Registry.Create when the registry is full.
	ErrTooManyForms = errors.New("too many open forms")
	// ErrPublishInFlight is returned when the form already has a publish attempt running.
	ErrPublishInFlight = errors.New("publish already in progress")
)

// ValidationError reports required fields that were empty at publish time.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// UploadError is a storage failure while uploading the image or resolving
// its URL. Stage tells which.
type UploadError struct {
	Stage Stage
	Key   string
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Stage, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PersistError is a failed record insert after a successful upload. The
// uploaded object at Key is left in storage unless cleanup is enabled.
type PersistError struct {
	Key      string
	ImageURL string
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("insert article for %q: %v", e.Key, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
