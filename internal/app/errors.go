package app

import "errors"

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrDocumentNotReady = errors.New("document is not ready")
	ErrPersistence      = errors.New("message persistence failed")
	ErrRetrieval        = errors.New("context retrieval failed")
	ErrGeneration       = errors.New("answer generation failed")
	ErrInvalidCursor    = errors.New("invalid cursor")

	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
)
