// Package logger provides logging functionality for the application.
package logger

import "errors"

// Errors returned by the logger package.
var (
	// ErrInvalidLevel is returned by New for an unrecognized logging level.
	ErrInvalidLevel = errors.New("invalid logging level")
	// ErrInvalidEncoding is returned by New for an unrecognized encoding.
	ErrInvalidEncoding = errors.New("invalid log encoding format")
	// ErrInvalidFields is returned when invalid fields are provided to a logging method.
	ErrInvalidFields = errors.New("invalid fields: must be key-value pairs")
)
