// Package core defines the fundamental types and errors for BizGenie.
package core

import "errors"

// Core errors that can occur across the system
var (
	// Onboarding errors
	ErrAlreadyOnboarded = errors.New("business already onboarded")
	ErrMissingName      = errors.New("business name is required")

	// Legal errors
	ErrTaskNotFound = errors.New("legal task not found")
	ErrStepNotFound = errors.New("legal step not found")
	ErrSaveFailed   = errors.New("saving legal changes failed")

	// Notification errors
	ErrNotificationNotFound = errors.New("notification not found")

	// Chat errors
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageNotFound = errors.New("chat message not found")
	ErrDeliverySettled = errors.New("message delivery already settled")

	// Document errors
	ErrMissingDocumentName = errors.New("document name is required")
)
