package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeStoreUnavailable is used when the durable store is unreachable
	ErrCodeStoreUnavailable = "ERR_STORE_UNAVAILABLE"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeValidationRequired is used when a required field is missing
	ErrCodeValidationRequired = "ERR_VALIDATION_REQUIRED"
	// ErrCodeValidationFormat is used when a field has invalid format
	ErrCodeValidationFormat = "ERR_VALIDATION_FORMAT"
	// ErrCodeValidationRange is used when a value is out of range
	ErrCodeValidationRange = "ERR_VALIDATION_RANGE"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeAlreadyExists is used when trying to create a duplicate resource
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	// ErrCodeConflict is used for general resource conflicts
	ErrCodeConflict = "ERR_CONFLICT"
	// ErrCodeConcurrencyConflict is used when optimistic locking fails
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
)

// Business rule error codes
const (
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeExperimentNotActive is used when assigning into a non-running experiment
	ErrCodeExperimentNotActive = "ERR_EXPERIMENT_NOT_ACTIVE"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	// General errors
	ErrCodeUnknown:          http.StatusInternalServerError,
	ErrCodeInternal:         http.StatusInternalServerError,
	ErrCodeStoreUnavailable: http.StatusServiceUnavailable,

	// Validation errors -> 400 Bad Request
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeValidationRequired: http.StatusBadRequest,
	ErrCodeValidationFormat:   http.StatusBadRequest,
	ErrCodeValidationRange:    http.StatusBadRequest,

	// Resource errors
	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConflict:            http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,

	// Business rule errors -> 422 Unprocessable Entity
	ErrCodeInvalidState:        http.StatusUnprocessableEntity,
	ErrCodeExperimentNotActive: http.StatusUnprocessableEntity,

	// Input errors -> 400 Bad Request
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to the standardized
// API codes. Domain packages raise short codes; the API surfaces the
// ERR_ namespace.
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":         ErrCodeNotFound,
	"VARIANT_NOT_FOUND": ErrCodeNotFound,

	"ALREADY_EXISTS":   ErrCodeAlreadyExists,
	"ALREADY_ASSIGNED": ErrCodeConflict,
	"CONFLICT":         ErrCodeConflict,

	"OPTIMISTIC_LOCK_FAILED": ErrCodeConcurrencyConflict,

	"INVALID_STATE":    ErrCodeInvalidState,
	"ALREADY_RUNNING":  ErrCodeInvalidState,
	"ALREADY_ARCHIVED": ErrCodeInvalidState,
	"ALREADY_ENABLED":  ErrCodeInvalidState,
	"ALREADY_DISABLED": ErrCodeInvalidState,

	"EXPERIMENT_NOT_ACTIVE": ErrCodeExperimentNotActive,

	"INVALID_INPUT":      ErrCodeInvalidInput,
	"INVALID_SUBJECT":    ErrCodeValidationRequired,
	"INVALID_NAME":       ErrCodeValidation,
	"INVALID_TYPE":       ErrCodeValidation,
	"INVALID_FLAG_KEY":   ErrCodeValidationFormat,
	"INVALID_VARIANTS":   ErrCodeValidation,
	"INVALID_ALLOCATION": ErrCodeValidationRange,
	"INVALID_ROLLOUT":    ErrCodeValidationRange,
	"INVALID_RULE":       ErrCodeValidation,
	"DUPLICATE_RULE_ID":  ErrCodeValidation,

	"STORE_UNAVAILABLE": ErrCodeStoreUnavailable,
	"INTERNAL_ERROR":    ErrCodeInternal,
}

// NormalizeErrorCode converts a domain error code to the standardized
// API format. Codes already in the ERR_ namespace, or unknown codes,
// are returned as-is.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := DomainErrorCodeMapping[code]; ok {
		return apiCode
	}
	return code
}
