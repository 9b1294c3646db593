package models

import "fmt"

// ErrorCode represents a Lattice error code.
type ErrorCode string

// Error codes for orchestrator operations.
const (
	// Analyzer errors
	ErrEmptyQuery    ErrorCode = "E_EMPTY_QUERY"
	ErrQueryAnalysis ErrorCode = "E_QUERY_ANALYSIS"

	// Retrieval errors
	ErrSQLExecution ErrorCode = "E_SQL_EXECUTION"
	ErrSQLUnsafe    ErrorCode = "E_SQL_UNSAFE"
	ErrRAGRetrieval ErrorCode = "E_RAG_RETRIEVAL"
	ErrESRetrieval  ErrorCode = "E_ES_RETRIEVAL"
	ErrGraphQuery   ErrorCode = "E_GRAPH_QUERY"

	// Fusion and generation errors
	ErrMerge              ErrorCode = "E_MERGE"
	ErrResponseGeneration ErrorCode = "E_RESPONSE_GENERATION"

	// Backend connectivity errors
	ErrLLMConnection      ErrorCode = "E_LLM_CONNECTION"
	ErrDatabaseConnection ErrorCode = "E_DATABASE_CONNECTION"
	ErrVectorConnection   ErrorCode = "E_VECTOR_CONNECTION"
	ErrESConnection       ErrorCode = "E_ES_CONNECTION"
	ErrGraphConnection    ErrorCode = "E_GRAPH_CONNECTION"

	// Configuration errors
	ErrConfigInvalid ErrorCode = "E_CONFIG_INVALID"
	ErrLoaderUnknown ErrorCode = "E_LOADER_UNKNOWN"

	// Workflow errors
	ErrNodeNotFound ErrorCode = "E_NODE_NOT_FOUND"
	ErrEdgeNotFound ErrorCode = "E_EDGE_NOT_FOUND"
)

// LatticeError represents a structured error with code and context.
type LatticeError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *LatticeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *LatticeError) Unwrap() error {
	return e.Cause
}

// NewError creates a new LatticeError.
func NewError(code ErrorCode, message string) *LatticeError {
	return &LatticeError{
		Code:    code,
		Message: message,
	}
}

// WithDetails adds details to the error.
func (e *LatticeError) WithDetails(key string, value interface{}) *LatticeError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to the error.
func (e *LatticeError) WithCause(cause error) *LatticeError {
	e.Cause = cause
	return e
}

// Wrap wraps an error with a LatticeError.
func Wrap(code ErrorCode, message string, cause error) *LatticeError {
	return &LatticeError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf extracts the error code, or empty when err is not a LatticeError.
func CodeOf(err error) ErrorCode {
	if le, ok := err.(*LatticeError); ok {
		return le.Code
	}
	return ""
}
