package errors

import (
	"errors"
	"fmt"

	"github.com/devrev/pairdb/indexstore/internal/model"
)

// ErrorCode represents internal error codes for persistence operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeNoStorageBound  ErrorCode = 1001
	ErrCodeStorageConflict ErrorCode = 1002

	// Storage errors
	ErrCodeInternal    ErrorCode = 2000
	ErrCodeNotFound    ErrorCode = 2001
	ErrCodeCorruptRoot ErrorCode = 2002
	ErrCodeCorruptNode ErrorCode = 2003
	ErrCodeDiskFull    ErrorCode = 2004
	ErrCodeMalformed   ErrorCode = 2005
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:              "ok",
	ErrCodeInvalidArgument: "invalid_argument",
	ErrCodeNoStorageBound:  "no_storage_bound",
	ErrCodeStorageConflict: "storage_conflict",
	ErrCodeInternal:        "internal",
	ErrCodeNotFound:        "not_found",
	ErrCodeCorruptRoot:     "corrupt_root",
	ErrCodeCorruptNode:     "corrupt_node",
	ErrCodeDiskFull:        "disk_full",
	ErrCodeMalformed:       "malformed_record",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code_%d", int(c))
}

// StorageError represents a structured error with code and context
type StorageError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is matches another StorageError by code, so errors.Is works against the
// sentinel values below.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	return ok && t.Code == e.Code
}

// NewStorageError creates a new StorageError
func NewStorageError(code ErrorCode, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is.
var (
	ErrNoStorageBound  = &StorageError{Code: ErrCodeNoStorageBound}
	ErrStorageConflict = &StorageError{Code: ErrCodeStorageConflict}
	ErrNotFound        = &StorageError{Code: ErrCodeNotFound}
	ErrCorruptRoot     = &StorageError{Code: ErrCodeCorruptRoot}
	ErrCorruptNode     = &StorageError{Code: ErrCodeCorruptNode}
	ErrDiskFull        = &StorageError{Code: ErrCodeDiskFull}
	ErrMalformed       = &StorageError{Code: ErrCodeMalformed}
)

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, message, cause)
}

func NoStorageBound(operation string) *StorageError {
	return NewStorageError(ErrCodeNoStorageBound, fmt.Sprintf("%s: no storage bound to database", operation), nil).
		WithDetail("operation", operation)
}

func StorageConflict(bound, requested string) *StorageError {
	return NewStorageError(ErrCodeStorageConflict,
		fmt.Sprintf("database is bound to storage %s, refusing to use %s", bound, requested), nil).
		WithDetail("bound_storage", bound).
		WithDetail("requested_storage", requested)
}

func NotFound(storeID string, addr model.Address) *StorageError {
	return NewStorageError(ErrCodeNotFound, fmt.Sprintf("address %s not found in %s", addr, storeID), nil).
		WithDetail("storage", storeID).
		WithDetail("address", addr)
}

func CorruptRoot(storeID string, addr model.Address, cause error) *StorageError {
	return NewStorageError(ErrCodeCorruptRoot, fmt.Sprintf("corrupt snapshot record %s in %s", addr, storeID), cause).
		WithDetail("storage", storeID).
		WithDetail("address", addr)
}

func CorruptNode(storeID string, addr model.Address, cause error) *StorageError {
	return NewStorageError(ErrCodeCorruptNode, fmt.Sprintf("corrupt node %s in %s", addr, storeID), cause).
		WithDetail("storage", storeID).
		WithDetail("address", addr)
}

// Malformed reports a record that exists but cannot be decoded.
func Malformed(storeID string, addr model.Address, cause error) *StorageError {
	return NewStorageError(ErrCodeMalformed, fmt.Sprintf("cannot decode record %s in %s", addr, storeID), cause).
		WithDetail("storage", storeID).
		WithDetail("address", addr)
}

func DiskFull(usagePercent float64, availableBytes uint64) *StorageError {
	return NewStorageError(ErrCodeDiskFull, fmt.Sprintf("disk full: %.2f%% used, %d bytes available", usagePercent, availableBytes), nil).
		WithDetail("usage_percent", usagePercent).
		WithDetail("available_bytes", availableBytes)
}

func InternalError(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInternal, message, cause)
}

// IsStorageError checks if an error is a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// GetCode extracts the outermost error code from an error chain
func GetCode(err error) ErrorCode {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsNotFound reports whether a NotFound error appears anywhere in the chain.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsMalformed reports whether a Malformed error appears anywhere in the chain.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}
