package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotInitialized      = errors.New("inventory not initialized for date")
	ErrRecordNotFound      = errors.New("record not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientFrozen  = errors.New("insufficient frozen stock")
	ErrTotalBelowCommitted = errors.New("total below frozen plus sold")
	ErrTimeConflict        = errors.New("overlapping live price interval")
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrStructureDuplicate  = errors.New("duplicate product structure")
	ErrStructureLocked     = errors.New("product structure locked by existing orders")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAlreadyDecided      = errors.New("approval already decided")
	ErrUnknownObjectType   = errors.New("unknown object type")
)

// ValidationError reports a missing or malformed required field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StructureDuplicateError is a warning: the caller may retry with an
// explicit override.
type StructureDuplicateError struct {
	Hash              string
	ExistingProductID string
}

func (e *StructureDuplicateError) Error() string {
	return fmt.Sprintf("product %s already has structure %s", e.ExistingProductID, e.Hash)
}

func (e *StructureDuplicateError) Unwrap() error { return ErrStructureDuplicate }

// ConflictError carries the live price records that overlap a proposed interval.
type ConflictError struct {
	Conflicts []PriceRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%d live price record(s) overlap the interval", len(e.Conflicts))
}

func (e *ConflictError) Unwrap() error { return ErrTimeConflict }

var kinds = []struct {
	err  error
	name string
}{
	{ErrValidation, "ValidationError"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrRecordNotFound, "RecordNotFound"},
	{ErrInsufficientStock, "InsufficientStock"},
	{ErrInsufficientFrozen, "InsufficientFrozen"},
	{ErrTotalBelowCommitted, "TotalBelowCommitted"},
	{ErrTimeConflict, "TimeConflict"},
	{ErrDuplicateKey, "DuplicateKey"},
	{ErrStructureDuplicate, "StructureDuplicate"},
	{ErrStructureLocked, "StructureLocked"},
	{ErrInvalidTransition, "InvalidTransition"},
	{ErrAlreadyDecided, "AlreadyDecided"},
	{ErrUnknownObjectType, "UnknownObjectType"},
}

// Kind names the domain error kind of err, or "Internal" for anything else.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// IsDomain reports whether err is one of the typed domain errors.
func IsDomain(err error) bool {
	return err != nil && Kind(err) != "Internal"
}

// Result is the {ok, message} shape returned by inventory mutations.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func ResultOf(err error) Result {
	if err == nil {
		return Result{OK: true}
	}
	return Result{OK: false, Message: err.Error()}
}
