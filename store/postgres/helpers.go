package postgres

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	bullmq "github.com/ozandndar/reddis-bullmq"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// unavailable reports whether err means the database could not be
// reached: connection failures, broken connections, and admin shutdown.
func unavailable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P")
	}
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		pgconn.SafeToRetry(err)
}

func wrap(op string, err error) error {
	if unavailable(err) {
		return fmt.Errorf("bullmq/postgres: %s: %w: %w", op, bullmq.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("bullmq/postgres: %s: %w", op, err)
}
