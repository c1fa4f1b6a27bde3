package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrEscapesVault  = errors.New("path escapes vault root")
	ErrIgnoredPath   = errors.New("ignored path")
	ErrInvalidPath   = errors.New("invalid note path")
	ErrCancelled     = errors.New("cancelled")
	ErrNoActiveNote  = errors.New("no active note")
)
