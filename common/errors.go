package common

import (
	"fmt"

	log "github.com/flintdb/flint/logger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type ErrCode int

const (
	SchemaNotFound ErrCode = iota + 1000
	TableNotFound
	TableAlreadyExists
	SchemaAlreadyExists
	PolicyNotFound
	InvalidPolicy
	SchemaMismatch
	UniqueConstraintViolation
	ExecuteError
	CatalogUnavailable ErrCode = iota + 2000
	CatalogError
	InvalidConfiguration ErrCode = iota + 3000
	FatalError           ErrCode = iota + 4000
	InternalError        ErrCode = iota + 5000
)

// FlintError is the uniform error type surfaced to callers. Fatal runtime
// conditions are the one exception - they are propagated unwrapped so no
// retry layer can swallow them.
type FlintError struct {
	Code ErrCode
	Msg  string
}

func (f FlintError) Error() string {
	return f.Msg
}

func NewFlintError(code ErrCode, msg string) FlintError {
	return FlintError{Code: code, Msg: msg}
}

func NewFlintErrorf(code ErrCode, msgFormat string, args ...interface{}) FlintError {
	return FlintError{Code: code, Msg: fmt.Sprintf(msgFormat, args...)}
}

func NewTableNotFoundError(schemaName string, tableName string) error {
	return NewFlintErrorf(TableNotFound, "table '%s.%s' does not exist", schemaName, tableName)
}

func NewTableAlreadyExistsError(schemaName string, tableName string) error {
	return NewFlintErrorf(TableAlreadyExists, "table '%s.%s' already exists", schemaName, tableName)
}

func NewInvalidConfigurationError(msg string) error {
	return NewFlintErrorf(InvalidConfiguration, "invalid configuration: %s", msg)
}

func NewInternalError(err error) FlintError {
	// We log the original error with a reference and only pass the reference back to the caller, as we don't
	// want to expose server internals to clients
	ref := fmt.Sprintf("flint-internal-err-reference-%s", uuid.New().String())
	log.Errorf("internal error with reference %s: %v", ref, err)
	return NewFlintErrorf(InternalError, "an internal error has occurred - please search server logs for reference: %s", ref)
}

func IsFlintErrorWithCode(err error, code ErrCode) bool {
	var ferr FlintError
	if errors.As(err, &ferr) {
		return ferr.Code == code
	}
	return false
}

// IsFatalError reports whether err must propagate immediately without any
// wrapping or retry.
func IsFatalError(err error) bool {
	return IsFlintErrorWithCode(err, FatalError)
}

func Error(msg string) error {
	return errors.New(msg)
}
