package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const busyRetries = 3

// IsBusy reports whether err indicates an SQLite BUSY condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// retryBusy runs op, retrying on SQLITE_BUSY with 100/200/300 ms backoff.
func retryBusy(ctx context.Context, op func() error) error {
	var err error
	for i := range busyRetries {
		if err = op(); err == nil || !IsBusy(err) {
			return err
		}
		if i == busyRetries-1 {
			break
		}
		if serr := sleepCtx(ctx, time.Duration(100*(i+1))*time.Millisecond); serr != nil {
			return fmt.Errorf("dbopen: context cancelled during retry: %w", serr)
		}
	}
	return err
}

// RunTx executes fn inside a transaction, retrying the whole transaction on
// SQLITE_BUSY.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return retryBusy(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}

// Exec executes a statement with automatic retry on SQLITE_BUSY.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryBusy(ctx, func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Query runs a read query with automatic retry on SQLITE_BUSY. The caller
// owns the returned rows.
func Query(ctx context.Context, db *sql.DB, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := retryBusy(ctx, func() error {
		var err error
		rows, err = db.QueryContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
