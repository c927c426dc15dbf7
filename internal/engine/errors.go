package engine

import (
	"errors"
	"fmt"
)

// Error represents a failure detected by the mutation engine before a
// physical write. In a multi-row batch it aborts the offending row's
// mutation but leaves previously-processed rows committed; there is no
// multi-row transaction to roll back.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Table is the table the failing row belongs to.
	Table string

	// Name identifies the violated constraint, index, or policy,
	// when one applies.
	Name string

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string
}

// Code categorizes engine errors.
type Code string

const (
	// CodeUniqueness indicates a unique-index violation.
	CodeUniqueness Code = "UNIQUENESS_VIOLATION"

	// CodeCheck indicates a check-constraint violation.
	CodeCheck Code = "CHECK_VIOLATION"

	// CodeForeignKey indicates an outgoing reference with no matching
	// row in the referenced table.
	CodeForeignKey Code = "FOREIGN_KEY_VIOLATION"

	// CodeRestrictedDelete indicates an incoming restrict foreign key
	// blocked a delete or key update.
	CodeRestrictedDelete Code = "RESTRICTED_DELETE"

	// CodeRLS indicates a with-check policy failed on a row that was
	// visible under using.
	CodeRLS Code = "RLS_VIOLATION"

	// CodePlanning indicates no index serves the predicate and full
	// scan was not permitted, or an unsupported filter shape.
	CodePlanning Code = "PLANNING_ERROR"

	// CodeConfig indicates invalid builder usage.
	CodeConfig Code = "CONFIG_ERROR"

	// CodeBudget indicates a synchronous execution exceeded its row or
	// byte budget; the caller must use deferred execution or narrow
	// the predicate.
	CodeBudget Code = "BUDGET_EXCEEDED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s (table=%s, name=%s)", e.Code, e.Message, e.Table, e.Name)
	}
	if e.Table != "" {
		return fmt.Sprintf("%s: %s (table=%s)", e.Code, e.Message, e.Table)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HasCode reports whether err is or wraps an engine Error with the
// given code. Uses errors.As to handle wrapped errors.
func HasCode(err error, code Code) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// IsUniquenessViolation reports a unique-index violation.
func IsUniquenessViolation(err error) bool { return HasCode(err, CodeUniqueness) }

// IsCheckViolation reports a check-constraint violation.
func IsCheckViolation(err error) bool { return HasCode(err, CodeCheck) }

// IsForeignKeyViolation reports a missing outgoing reference.
func IsForeignKeyViolation(err error) bool { return HasCode(err, CodeForeignKey) }

// IsRestrictedDelete reports a delete blocked by an incoming restrict
// foreign key.
func IsRestrictedDelete(err error) bool { return HasCode(err, CodeRestrictedDelete) }

// IsRLSViolation reports a failed with-check policy.
func IsRLSViolation(err error) bool { return HasCode(err, CodeRLS) }

// IsPlanningError reports a rejected or unsupported filter shape.
func IsPlanningError(err error) bool { return HasCode(err, CodePlanning) }

// IsConfigError reports invalid builder usage.
func IsConfigError(err error) bool { return HasCode(err, CodeConfig) }

// IsBudgetExceeded reports an exhausted synchronous work budget.
func IsBudgetExceeded(err error) bool { return HasCode(err, CodeBudget) }

func newUniquenessError(table, index string) *Error {
	return &Error{
		Code:    CodeUniqueness,
		Table:   table,
		Name:    index,
		Message: "duplicate value for unique index",
	}
}

func newCheckError(table, check string) *Error {
	return &Error{
		Code:    CodeCheck,
		Table:   table,
		Name:    check,
		Message: "check constraint evaluated to false",
	}
}

func newForeignKeyError(table, fk, refTable string) *Error {
	return &Error{
		Code:    CodeForeignKey,
		Table:   table,
		Name:    fk,
		Message: "no matching row in referenced table",
		Details: map[string]string{"referenced_table": refTable},
	}
}

func newRestrictedDeleteError(table, depTable, fk string) *Error {
	return &Error{
		Code:    CodeRestrictedDelete,
		Table:   table,
		Name:    fk,
		Message: "dependent rows exist",
		Details: map[string]string{"dependent_table": depTable},
	}
}

func newRLSError(table, op string) *Error {
	return &Error{
		Code:    CodeRLS,
		Table:   table,
		Message: fmt.Sprintf("row fails with-check policy for %s", op),
	}
}

func newPlanningError(table, reason string) *Error {
	return &Error{Code: CodePlanning, Table: table, Message: reason}
}

func newConfigError(msg string) *Error {
	return &Error{Code: CodeConfig, Message: msg}
}

func newBudgetError(table string, rows, byteCount int) *Error {
	return &Error{
		Code:    CodeBudget,
		Table:   table,
		Message: "synchronous work budget exceeded; narrow the predicate or execute async",
		Details: map[string]string{
			"rows":  fmt.Sprintf("%d", rows),
			"bytes": fmt.Sprintf("%d", byteCount),
		},
	}
}
