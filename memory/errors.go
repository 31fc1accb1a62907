package memory

import "errors"

// Error is the engine's typed error. Callers branch on Type via the Is*
// predicates instead of string matching.
type Error struct {
	Type    ErrorType
	Message string
	Err     error // underlying cause, if any
}

// ErrorType categorizes engine errors.
type ErrorType string

const (
	ErrorTypeConfiguration    ErrorType = "configuration"
	ErrorTypeEmbeddingService ErrorType = "embedding_service"
	ErrorTypeVectorStore      ErrorType = "vector_store"
	ErrorTypeSummarization    ErrorType = "summarization"
	ErrorTypeQuality          ErrorType = "quality_below_threshold"
	ErrorTypeCircuitOpen      ErrorType = "circuit_open"
	ErrorTypePersistence      ErrorType = "persistence"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func isType(err error, t ErrorType) bool {
	var memErr *Error
	if errors.As(err, &memErr) {
		return memErr.Type == t
	}
	return false
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool { return isType(err, ErrorTypeConfiguration) }

// IsEmbeddingServiceError reports whether err originated in the embedding
// service itself, as opposed to transport or orchestration. These are not
// retried.
func IsEmbeddingServiceError(err error) bool { return isType(err, ErrorTypeEmbeddingService) }

// IsVectorStoreError reports whether err is a vector store error.
func IsVectorStoreError(err error) bool { return isType(err, ErrorTypeVectorStore) }

// IsSummarizationError reports whether err is a summarization error.
func IsSummarizationError(err error) bool { return isType(err, ErrorTypeSummarization) }

// IsQualityError reports whether err marks an embedding rejected for low
// quality.
func IsQualityError(err error) bool { return isType(err, ErrorTypeQuality) }

// IsCircuitOpenError reports whether err was a circuit breaker rejection.
func IsCircuitOpenError(err error) bool { return isType(err, ErrorTypeCircuitOpen) }

// IsPersistenceError reports whether err came from the durable message store.
func IsPersistenceError(err error) bool { return isType(err, ErrorTypePersistence) }

// NewConfigError creates a configuration error.
func NewConfigError(message string) *Error {
	return &Error{Type: ErrorTypeConfiguration, Message: message}
}

// NewEmbeddingServiceError creates an embedding service error.
func NewEmbeddingServiceError(message string, err error) *Error {
	return &Error{Type: ErrorTypeEmbeddingService, Message: message, Err: err}
}

// NewVectorStoreError creates a vector store error.
func NewVectorStoreError(message string, err error) *Error {
	return &Error{Type: ErrorTypeVectorStore, Message: message, Err: err}
}

// NewSummarizationError creates a summarization error.
func NewSummarizationError(message string, err error) *Error {
	return &Error{Type: ErrorTypeSummarization, Message: message, Err: err}
}

// NewQualityError creates a quality rejection error.
func NewQualityError(message string) *Error {
	return &Error{Type: ErrorTypeQuality, Message: message}
}

// NewCircuitOpenError creates a circuit breaker rejection error.
func NewCircuitOpenError(message string) *Error {
	return &Error{Type: ErrorTypeCircuitOpen, Message: message}
}

// NewPersistenceError creates a persistence error.
func NewPersistenceError(message string, err error) *Error {
	return &Error{Type: ErrorTypePersistence, Message: message, Err: err}
}
