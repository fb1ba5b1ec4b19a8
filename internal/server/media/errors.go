package media

import "errors"

// Ошибки жизненного цикла медиа-грантов
var (
	// ErrGrantExpired indicates that the grant expired before completion
	ErrGrantExpired = errors.New("media grant expired")

	// ErrGrantConsumed indicates that the grant was already used
	ErrGrantConsumed = errors.New("media grant already consumed")

	// ErrUploadIncomplete indicates finalize was called before a successful upload
	ErrUploadIncomplete = errors.New("upload not completed")

	// ErrIntegrity indicates that the uploaded object's hash does not match
	ErrIntegrity = errors.New("content hash mismatch")

	// ErrBadSignature indicates an invalid or tampered upload URL signature
	ErrBadSignature = errors.New("invalid upload signature")

	// ErrContentType indicates a content type outside the allowed set
	ErrContentType = errors.New("content type not allowed")

	// ErrTooLarge indicates the declared or observed size exceeds the limit
	ErrTooLarge = errors.New("file size exceeds limit")
)
