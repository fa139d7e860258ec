package service

import (
	"errors"
	"fmt"
)

// Collaborator steps reported by CollaboratorError
const (
	StepCaption  = "caption"
	StepClassify = "classify"
)

var (
	// ErrClassificationInput means the combined text was empty; nothing is persisted
	ErrClassificationInput = errors.New("provide text or an image to classify")
	// ErrUnsupportedImage rejects uploads that are not JPEG or PNG
	ErrUnsupportedImage = errors.New("unsupported image type, expected jpg or png")
)

// CollaboratorError wraps a captioning or classification failure
type CollaboratorError struct {
	Step string
	Err  error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
