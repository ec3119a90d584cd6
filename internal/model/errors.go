package model

import (
	"errors"
	"fmt"
	"strings"
)

// SectionNotFoundError reports that a document lacks an expected section
// anchor. It is fatal for the field being extracted, not for the whole case.
type SectionNotFoundError struct {
	Section  string
	Headings []string
}

func (e *SectionNotFoundError) Error() string {
	if len(e.Headings) == 0 {
		return fmt.Sprintf("section %q not found", e.Section)
	}
	return fmt.Sprintf("section %q not found (looked for %s)", e.Section, strings.Join(e.Headings, ", "))
}

// NewSectionNotFoundError builds a SectionNotFoundError.
func NewSectionNotFoundError(section string, headings ...string) *SectionNotFoundError {
	return &SectionNotFoundError{Section: section, Headings: headings}
}

// IsSectionNotFound returns true if err (or any error in its chain) is a
// SectionNotFoundError.
func IsSectionNotFound(err error) bool {
	var se *SectionNotFoundError
	return errors.As(err, &se)
}

// ClassificationError reports that no status rule matched. No default status
// is ever assigned in its place.
type ClassificationError struct {
	CaseID string
	Reason string
}

func (e *ClassificationError) Error() string {
	if e.CaseID == "" {
		return "classification failed: " + e.Reason
	}
	return fmt.Sprintf("classification failed for case %s: %s", e.CaseID, e.Reason)
}

// IsClassificationError returns true if err (or any error in its chain) is a
// ClassificationError.
func IsClassificationError(err error) bool {
	var ce *ClassificationError
	return errors.As(err, &ce)
}
