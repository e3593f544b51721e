package harvest

import (
	"context"
	"errors"
)

// Error taxonomy for a single identifier. None of these abort a batch.
var (
	// ErrNavigationTimeout means a required element did not appear within the wait budget.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrCaptchaRejected means every submission attempt was refused by the portal.
	ErrCaptchaRejected = errors.New("captcha rejected")
	// ErrRecordNotFound means the result page carried no student name.
	ErrRecordNotFound = errors.New("record not found")
	// ErrOptionNotFound means an enumerated form option had no matching value.
	ErrOptionNotFound = errors.New("option not found")
)

// Failure labels used in logs, metrics and batch summaries.
const (
	LabelMerged   = "merged"
	LabelTimedOut = "timed_out"
	LabelRejected = "rejected"
	LabelNotFound = "not_found"
	LabelNoOption = "option_not_found"
	LabelCanceled = "canceled"
	LabelFailed   = "failed"
)

// Classify maps an identifier-level error to its failure label.
func Classify(err error) string {
	switch {
	case err == nil:
		return LabelMerged
	case errors.Is(err, ErrNavigationTimeout):
		return LabelTimedOut
	case errors.Is(err, ErrCaptchaRejected):
		return LabelRejected
	case errors.Is(err, ErrRecordNotFound):
		return LabelNotFound
	case errors.Is(err, ErrOptionNotFound):
		return LabelNoOption
	case errors.Is(err, context.Canceled):
		return LabelCanceled
	default:
		return LabelFailed
	}
}
