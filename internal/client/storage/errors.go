package storage

import "errors"

// Common client storage errors
var (
	// ErrPersistence indicates that the durable change log could not be written.
	// Операция над сущностью не считается выполненной без записи в журнал.
	ErrPersistence = errors.New("change log persistence failed")

	// ErrEntityNotFound indicates that local entity was not found
	ErrEntityNotFound = errors.New("entity not found")

	// ErrChangeNotFound indicates that change log record was not found
	ErrChangeNotFound = errors.New("change record not found")

	// ErrUploadNotFound indicates that media upload record was not found
	ErrUploadNotFound = errors.New("media upload not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
