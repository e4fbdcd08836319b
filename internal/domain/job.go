package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job's result record.
type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
)

// IsTerminal returns true if the status represents a final state.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Language represents a supported programming language.
type Language string

const (
	LangPython Language = "python"
	LangNode   Language = "node"
	LangCpp    Language = "cpp"
	LangJava   Language = "java"
)

// Job is the immutable unit of work carried by the queue.
type Job struct {
	JobID       uuid.UUID `json:"job_id"`
	Language    Language  `json:"language"`
	SourceCode  string    `json:"source_code"`
	Stdin       string    `json:"stdin"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// JobResult is the persisted outcome of a job, one-to-one with Job by id.
//
// Error is set only when the sandbox itself failed (timeout, provisioning,
// unsupported language). A program that exits nonzero reports through Stderr.
type JobResult struct {
	JobID      uuid.UUID `json:"job_id"`
	Language   Language  `json:"language"`
	Status     JobStatus `json:"status"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	Error      string    `json:"error,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	TimeUsedMs *int      `json:"time_used_ms,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// JobMessage wraps a dequeued Job with broker acknowledgement callbacks.
type JobMessage struct {
	Job         *Job
	Redelivered bool
	Ack         func() error
	Nack        func(requeue bool) error
}

// SubmitRequest represents an incoming code submission from the API.
type SubmitRequest struct {
	Language   Language `json:"language" binding:"required"`
	SourceCode string   `json:"code" binding:"required"`
	Stdin      string   `json:"stdin"`
}

// DocumentSubmitRequest submits the text of a stored document.
type DocumentSubmitRequest struct {
	DocumentID string `json:"document_id" binding:"required"`
	Stdin      string `json:"stdin"`
}

// SubmitResponse is returned after a successful submission.
type SubmitResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}

// Document is a stored file resolved by id before submission.
type Document struct {
	ID      string
	Name    string
	Content string
}

// LanguageInfo describes a supported language.
type LanguageInfo struct {
	Name       Language `json:"name"`
	Version    string   `json:"version"`
	Compiler   string   `json:"compiler,omitempty"`
	Extensions []string `json:"extensions"`
}

// ExecutionRequest is passed to the sandbox runner.
type ExecutionRequest struct {
	JobID      uuid.UUID
	Language   Language
	SourceCode string
	Stdin      string
}

// ExecutionResult is returned by the sandbox runner after the program exits.
type ExecutionResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	TimeUsedMs int
	OOMKilled  bool
}
