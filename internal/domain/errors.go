package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidLanguage is returned when an unsupported language is submitted.
	ErrInvalidLanguage = errors.New("invalid or unsupported language")

	// ErrPayloadTooLarge is returned when the source code exceeds the size limit.
	ErrPayloadTooLarge = errors.New("source code payload exceeds maximum size (1MB)")

	// ErrEmptySourceCode is returned when source code is empty.
	ErrEmptySourceCode = errors.New("source code cannot be empty")

	// ErrPublishFailed is returned when the message broker publish fails.
	ErrPublishFailed = errors.New("failed to publish job to message queue")

	// ErrDocumentNotFound is returned when a document reference cannot be resolved.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrExecutionNotFound is returned when an interactive execution is not registered.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrProcessExited is returned when input is sent to a process that already exited.
	ErrProcessExited = errors.New("process has already exited")

	// ErrCommandNotAllowed is returned when an interactive command is outside the allow-list.
	ErrCommandNotAllowed = errors.New("command not allowed")

	// ErrInvalidTransition is returned when a store write would move a result back to PENDING.
	ErrInvalidTransition = errors.New("invalid job status transition")
)
