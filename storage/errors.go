package storage

import "errors"

// Storage error constants
var (
	// ErrAlertNotFound is returned when an alert is not found
	ErrAlertNotFound = errors.New("alert not found")

	// ErrPlaybookNotFound is returned when a playbook is not found
	ErrPlaybookNotFound = errors.New("playbook not found")

	// ErrDuplicatePlaybook is returned when a second AI-generated playbook of
	// the same type is created for one alert
	ErrDuplicatePlaybook = errors.New("generated playbook already exists for this alert and type")

	// ErrTimelineEventNotFound is returned when a timeline event is not found
	ErrTimelineEventNotFound = errors.New("timeline event not found")

	// ErrAssetNotFound is returned when an asset is not found
	ErrAssetNotFound = errors.New("asset not found")

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrVersionConflict is returned when an optimistic-concurrency write
	// loses the race: the row's version no longer matches the reader's
	ErrVersionConflict = errors.New("alert was modified concurrently")

	// Generic storage errors

	// ErrNotFound is a generic "not found" error
	ErrNotFound = errors.New("not found")

	// ErrDatabaseClosed is returned when attempting to use a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrConstraintViolation is returned when a database constraint is violated
	ErrConstraintViolation = errors.New("constraint violation")
)
