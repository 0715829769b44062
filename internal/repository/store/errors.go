package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/ncruces/go-sqlite3"

	apperrors "github.com/jwalitptl/patient-registry/pkg/errors"
)

// pgIntegrityClass is the SQLSTATE class for integrity constraint violations.
const pgIntegrityClass = "23"

// translate maps driver errors onto application errors. Constraint violations
// are the caller's fault and become BadRequest.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if isConstraint(err) {
		return apperrors.BadRequest(fmt.Sprintf("%s: %s", op, driverMessage(err)), err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// translateQuery is translate for user supplied SQL, where any error raised by
// the engine itself (syntax, unknown table) is a bad request.
func translateQuery(err error) error {
	if err == nil {
		return nil
	}
	if isEngineError(err) {
		return apperrors.BadRequest(driverMessage(err), err)
	}
	return fmt.Errorf("failed to execute query: %w", err)
}

func isConstraint(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == pgIntegrityClass
	}
	var liteErr *sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.CONSTRAINT
	}
	return false
}

func isEngineError(err error) bool {
	var pqErr *pq.Error
	var liteErr *sqlite3.Error
	return errors.As(err, &pqErr) || errors.As(err, &liteErr)
}

func driverMessage(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Detail != "" {
			return pqErr.Message + " (" + pqErr.Detail + ")"
		}
		return pqErr.Message
	}
	return err.Error()
}
