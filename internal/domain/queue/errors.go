package queue

import "errors"

var (
	ErrStoreNotConfigured = errors.New("realtime store is not configured")
	ErrUnsavedChanges     = errors.New("workspace has unsaved changes")
	ErrUnknownStatus      = errors.New("unknown status")
	ErrInvalidRoom        = errors.New("invalid room")
	ErrEmptyName          = errors.New("name is required")
	ErrEmptyLabel         = errors.New("status label is required")
	ErrEmptyNotice        = errors.New("notice text is required")
	ErrNoticeIndex        = errors.New("notice index out of range")
	ErrBannerIndex        = errors.New("banner index out of range")
	ErrSessionNotFound    = errors.New("admin session not found")
	ErrWriterClosed       = errors.New("write queue is closed")
)

// errNoop aborts a draft edit that would change nothing.
var errNoop = errors.New("no change")
