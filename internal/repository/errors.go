package repository

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Errors returned by the credential store. Driver errors never leave the
// package wrapped; anything unrecognised becomes ErrDatabase.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("username or email already exists")
	ErrSchemaMissing = errors.New("users table does not exist")
	ErrUnavailable   = errors.New("database unavailable")
	ErrDatabase      = errors.New("database error")
)

// PostgreSQL error codes the store reacts to.
const (
	pgUniqueViolation      = "23505"
	pgUndefinedTable       = "42P01"
	pgDuplicateTable       = "42P07"
	pgDuplicateObject      = "42710"
	pgInvalidPassword      = "28P01"
	pgInvalidAuthorization = "28000"
	pgInvalidCatalogName   = "3D000"
	pgCannotConnectNow     = "57P03"
	pgAdminShutdown        = "57P01"
	pgTooManyConnections   = "53300"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgUniqueViolation
}

// isConnectionError reports whether err means the server could not be
// reached or went away, as opposed to rejecting the statement.
func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	switch pgErrorCode(err) {
	case pgCannotConnectNow, pgAdminShutdown, pgTooManyConnections:
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// translate maps a driver error onto the store's error set.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return ErrDuplicateUser
	case pgErrorCode(err) == pgUndefinedTable:
		return ErrSchemaMissing
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, context.Canceled)
	case isConnectionError(err):
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrDatabase, op, err)
	}
}
