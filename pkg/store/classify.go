package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/autoparts/compat-engine/pkg/enginerr"
)

// Classify maps a store error to the engine taxonomy. ctx is the context
// the query ran under; its state disambiguates a timeout from a driver error
// that merely reports the interruption.
//
// Connectivity and resource errors are BackendUnavailable. Errors that
// retrying cannot fix (bad SQL, missing table) are Internal. Anything the
// drivers do not describe is treated as BackendUnavailable.
func Classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *enginerr.Error
	if errors.As(err, &ee) {
		return err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.Canceled) {
			return enginerr.Canceled(op, ctxErr)
		}
		return enginerr.BackendUnavailable(op, ctxErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return enginerr.BackendUnavailable(op, err)
	case errors.Is(err, context.Canceled):
		return enginerr.Canceled(op, err)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return enginerr.BackendUnavailable(op, err)
	case errors.Is(err, mysqldriver.ErrInvalidConn):
		return enginerr.BackendUnavailable(op, err)
	case pgconn.Timeout(err):
		return enginerr.BackendUnavailable(op, err)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return enginerr.BackendUnavailable(op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) >= 2 {
			switch pgErr.Code[:2] {
			case "08", "53", "57":
				return enginerr.BackendUnavailable(op, err)
			}
		}
		return enginerr.Internal(op, err)
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1040, 1053, 1205, 2006, 2013:
			return enginerr.BackendUnavailable(op, err)
		}
		return enginerr.Internal(op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return enginerr.BackendUnavailable(op, err)
	}

	return enginerr.BackendUnavailable(op, err)
}
