// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// Folder errors
	ErrFolderNotFound = errors.New("folder not found")
	ErrFolderExists   = errors.New("folder already exists")
	ErrFolderNotEmpty = errors.New("folder is not empty")
	ErrParentNotFound = errors.New("parent folder not found")
	ErrFolderCycle    = errors.New("folder cannot be moved into itself or a descendant")
	ErrInvalidName    = errors.New("invalid name")
	ErrInvalidPath    = errors.New("invalid path")

	// File errors
	ErrFileNotFound       = errors.New("file not found")
	ErrFileTooLarge       = errors.New("file too large")
	ErrFileTypeNotAllowed = errors.New("file type not allowed")
	ErrFileStorageFailed  = errors.New("file storage failed")
	ErrUploadFailed       = errors.New("file upload failed")

	// Access errors
	ErrPermissionDenied = errors.New("permission denied")

	// Streaming errors
	ErrInvalidRange = errors.New("requested range not satisfiable")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join aggregates multiple errors into one.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
