package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/Sternrassler/dataaccess/pkg/fault"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Classify maps a database error to a fault kind. It is the classifier the
// store's executor retries with.
func Classify(err error) fault.Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, sql.ErrNoRows):
		return fault.KindNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fault.KindTimeout
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return fault.KindTransientBackend
	}

	if code, ok := sqlState(err); ok {
		return classifyState(code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fault.KindTransientBackend
	}
	return fault.KindInternal
}

// classifyState works on SQLSTATE classes (the first two characters).
func classifyState(code string) fault.Kind {
	if code == "57014" { // query_canceled
		return fault.KindTimeout
	}
	if len(code) < 2 {
		return fault.KindInternal
	}
	switch code[:2] {
	case "08", // connection exception
		"40", // transaction rollback: serialization failure, deadlock
		"53", // insufficient resources
		"57": // operator intervention: admin shutdown, cannot connect now
		return fault.KindTransientBackend
	case "22", // data exception
		"23", // integrity constraint violation
		"42": // syntax error or access rule violation
		return fault.KindCallerInput
	default:
		return fault.KindInternal
	}
}

func sqlState(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	return "", false
}
