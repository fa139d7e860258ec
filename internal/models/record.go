package models

import (
	"errors"
	"strings"
	"time"
)

// Classification is the moderation label stored with every record
type Classification string

const (
	Safe          Classification = "Safe to post"
	Inappropriate Classification = "Inappropriate content"
)

// AllClassifications lists the labels in display order
var AllClassifications = []Classification{Safe, Inappropriate}

// ErrEmptyInput is returned by collaborators asked to work on empty input
var ErrEmptyInput = errors.New("empty input")

// ParseClassification accepts the stored label or its short name.
// "All" and other values are rejected; callers handle "All" themselves.
func ParseClassification(s string) (Classification, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe to post", "safe":
		return Safe, true
	case "inappropriate content", "inappropriate":
		return Inappropriate, true
	}
	return "", false
}

// Valid reports whether c is one of the known labels
func (c Classification) Valid() bool {
	return c == Safe || c == Inappropriate
}

// Short returns the short name used in metrics and API summaries
func (c Classification) Short() string {
	switch c {
	case Safe:
		return "safe"
	case Inappropriate:
		return "inappropriate"
	}
	return "unknown"
}

// Record represents one moderated submission
type Record struct {
	ID             int64          `json:"id"`
	InputText      string         `json:"input_text"`
	Classification Classification `json:"classification"`
	// Timestamp is the zero time when the stored value could not be parsed
	Timestamp  time.Time `json:"timestamp"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// HasTimestamp reports whether the record carries a parsable timestamp
func (r Record) HasTimestamp() bool {
	return !r.Timestamp.IsZero()
}

// ClassificationResult is returned by classifier collaborators
type ClassificationResult struct {
	Label      Classification `json:"label"`
	Confidence float64        `json:"confidence"`
	Provider   string         `json:"provider"`
	Model      string         `json:"model,omitempty"`
}

// EditRequest for replacing a record's text and label
type EditRequest struct {
	InputText      string `json:"input_text" binding:"required"`
	Classification string `json:"classification" binding:"required"`
}

// DeleteRequest for removing several records at once
type DeleteRequest struct {
	IDs []int64 `json:"ids" binding:"required,min=1"`
}

// SubmitResponse is returned after a successful submission
type SubmitResponse struct {
	Record     *Record  `json:"record"`
	Caption    string   `json:"caption,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}
