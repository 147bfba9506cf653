package domain

import "errors"

var (
	// ErrElementNotFound means no candidate survived the exclusions. The
	// page is usually still rendering.
	ErrElementNotFound = errors.New("element not found")
	// ErrInjectionRejected means the editing command refused the text.
	ErrInjectionRejected = errors.New("injection rejected")
	// ErrSubmitAmbiguous means the best submit candidate scored <= 0.
	ErrSubmitAmbiguous = errors.New("submit control ambiguous")
	// ErrNavigationUnavailable means the site has no fresh conversation URL.
	ErrNavigationUnavailable = errors.New("navigation unavailable")
)
