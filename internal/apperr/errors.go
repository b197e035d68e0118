// Package apperr defines the error taxonomy shared by the sync packages.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound                  = errors.New("not found")
	ErrMalformedDocument         = errors.New("malformed document")
	ErrBrokenCrossReference      = errors.New("broken cross reference")
	ErrMissingClassification     = errors.New("missing classification")
	ErrUnsupportedCollectionType = errors.New("unsupported collection type")
	ErrDuplicateDocument         = errors.New("duplicate document id")
	ErrInvalidReference          = errors.New("invalid document reference")
	ErrUnsupportedFormatting     = errors.New("unsupported text formatting rule")
)

// MalformedDocumentError reports a local document whose header lacks a required field.
type MalformedDocumentError struct {
	Path  string
	Field string
}

func (e *MalformedDocumentError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed document: header has no %q", e.Field)
	}
	return fmt.Sprintf("malformed document %s: header has no %q", e.Path, e.Field)
}

func (e *MalformedDocumentError) Is(target error) bool { return target == ErrMalformedDocument }

// BrokenCrossReferenceError reports a local link whose target cannot be resolved.
// Line is approximate: it counts the header lines stripped before parsing.
type BrokenCrossReferenceError struct {
	Source string
	Target string
	Line   int
	Err    error
}

func (e *BrokenCrossReferenceError) Error() string {
	return fmt.Sprintf("%s (%d): link target not found %q", e.Source, e.Line, e.Target)
}

func (e *BrokenCrossReferenceError) Is(target error) bool { return target == ErrBrokenCrossReference }

func (e *BrokenCrossReferenceError) Unwrap() error { return e.Err }

// MissingClassificationError reports a remote collection with no candidates for a required field.
type MissingClassificationError struct {
	Kind       string // "priority" or "type"
	Collection string
}

func (e *MissingClassificationError) Error() string {
	return fmt.Sprintf("no %s defined for %s", e.Kind, e.Collection)
}

func (e *MissingClassificationError) Is(target error) bool { return target == ErrMissingClassification }

// UnsupportedCollectionTypeError is returned for collection types other than issues.
type UnsupportedCollectionTypeError struct {
	Type string
}

func (e *UnsupportedCollectionTypeError) Error() string {
	return fmt.Sprintf("not implemented: collection type %q", e.Type)
}

func (e *UnsupportedCollectionTypeError) Is(target error) bool {
	return target == ErrUnsupportedCollectionType
}

// DuplicateDocumentError reports two local files claiming the same remote id.
type DuplicateDocumentError struct {
	ID    string
	Paths []string
}

func (e *DuplicateDocumentError) Error() string {
	return fmt.Sprintf("document id %s is claimed by %s", e.ID, strings.Join(e.Paths, ", "))
}

func (e *DuplicateDocumentError) Is(target error) bool { return target == ErrDuplicateDocument }
