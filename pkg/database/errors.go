package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"

	"github.com/lib/pq"
	"github.com/medflow/medflow-stock/pkg/errors"
)

// PostgreSQL error codes that mean "another transaction got in the way".
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
		return errors.ConcurrencyConflict("stock rows are busy, retry the operation", err)

	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// Classify turns any error raised inside a stock unit of work into an
// AppError. Errors that already are AppErrors pass through untouched,
// contention becomes ConcurrencyConflict and everything else a StorageFault.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}

	if mapped := MapPQError(err); mapped != nil {
		if mapped.Cause == nil {
			mapped.Cause = err
		}
		return mapped
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.ConcurrencyConflict(message, err)
	}

	return errors.StorageFault(message, err)
}

// IsNoRows reports whether err is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return stderrors.Is(err, sql.ErrNoRows)
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_available_nonnegative"):
		return errors.Validation(map[string]string{
			"quantity_available": "must not be negative",
		})

	case strings.Contains(constraint, "transaction_type_valid"):
		return errors.Validation(map[string]string{
			"transaction_type": "must be one of: IN, OUT, ADJUSTMENT, TRANSFER, EXPIRED, DAMAGED",
		})

	case strings.Contains(constraint, "quantity_nonzero"):
		return errors.Validation(map[string]string{
			"quantity": "must not be zero",
		})

	case strings.Contains(constraint, "quantity_positive"):
		return errors.Validation(map[string]string{
			"quantity": "must be positive",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "batch_code"):
		return "a batch with this code already exists for the medicine"
	case strings.Contains(constraint, "medicine_name"):
		return "a medicine with this name already exists"
	default:
		return "a record with these values already exists"
	}
}
