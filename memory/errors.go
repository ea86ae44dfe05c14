package memory

import "errors"

var (
	ErrNotFound              = errors.New("memory not found")
	ErrEmptyContent          = errors.New("content is empty")
	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrSummarizerUnavailable = errors.New("merge summarizer unavailable")
)

// ErrorKind is the category of a memory error.
type ErrorKind string

const (
	ErrorKindInput        ErrorKind = "input"
	ErrorKindCollaborator ErrorKind = "collaborator"
	ErrorKindCapability   ErrorKind = "capability"
	ErrorKindStorage      ErrorKind = "storage"
)

// Error is a categorized error returned by the memory core.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op + ": " + e.Message
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func isKind(err error, kind ErrorKind) bool {
	var memErr *Error
	if errors.As(err, &memErr) {
		return memErr.Kind == kind
	}
	return false
}

// IsInputError checks if an error was caused by invalid caller input.
func IsInputError(err error) bool { return isKind(err, ErrorKindInput) }

// IsCollaboratorError checks if an error came from the embedder or summarizer.
func IsCollaboratorError(err error) bool { return isKind(err, ErrorKindCollaborator) }

// IsCapabilityError checks if an error came from a missing store capability.
func IsCapabilityError(err error) bool { return isKind(err, ErrorKindCapability) }

// IsStorageError checks if an error came from the database.
func IsStorageError(err error) bool { return isKind(err, ErrorKindStorage) }
