// Package pgstore writes telemetry rows through a dedicated pgx pool.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yonotravel/bookingd/pkg/booking"
)

const (
	pgUndefinedTableCode  = "42P01"
	pgUndefinedColumnCode = "42703"

	errorOperationStore = "store"
	errorSubjectRow     = "row"
	errorCodeInsert     = "insert"
	errorCodeInvalid    = "invalid"
	errorCodeSchema     = "schema"

	defaultMaxConns = 4
)

var (
	ErrEmptyRow       = errors.New("row has no columns")
	ErrSchemaMismatch = errors.New("table or column does not exist")
)

// Executor is the subset of pgxpool.Pool the writer needs.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// RowWriter implements telemetry.RowWriter over Postgres.
type RowWriter struct {
	executor Executor
}

// New wraps an executor.
func New(executor Executor) (*RowWriter, error) {
	if executor == nil {
		return nil, errors.New("pgstore: executor is nil")
	}
	return &RowWriter{executor: executor}, nil
}

// Open connects a small dedicated pool for telemetry writes.
func Open(ctx context.Context, dsn string) (*RowWriter, func(), error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolConfig.MaxConns = defaultMaxConns
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("open telemetry pool: %w", err)
	}
	writer, err := New(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return writer, pool.Close, nil
}

// InsertRow inserts row into table. Map and slice values are stored as JSON.
func (writer *RowWriter) InsertRow(ctx context.Context, table string, row map[string]any) error {
	statement, arguments, err := buildInsert(table, row)
	if err != nil {
		return booking.WrapError(errorOperationStore, errorSubjectRow, errorCodeInvalid, err)
	}
	if _, err := writer.executor.Exec(ctx, statement, arguments...); err != nil {
		return classify(err)
	}
	return nil
}

func buildInsert(table string, row map[string]any) (string, []any, error) {
	if strings.TrimSpace(table) == "" {
		return "", nil, errors.New("table name is empty")
	}
	if len(row) == 0 {
		return "", nil, ErrEmptyRow
	}
	columns := make([]string, 0, len(row))
	for column := range row {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	arguments := make([]any, len(columns))
	for index, column := range columns {
		quoted[index] = pgx.Identifier{column}.Sanitize()
		placeholders[index] = fmt.Sprintf("$%d", index+1)
		value, err := columnValue(row[column])
		if err != nil {
			return "", nil, fmt.Errorf("column %s: %w", column, err)
		}
		arguments[index] = value
	}
	statement := fmt.Sprintf("insert into %s (%s) values (%s)",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)
	return statement, arguments, nil
}

func columnValue(value any) (any, error) {
	switch typed := value.(type) {
	case nil, string, bool, int, int32, int64, float64, time.Time, []byte:
		return typed, nil
	case json.RawMessage:
		return string(typed), nil
	case map[string]any, []any, []string:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	default:
		return value, nil
	}
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUndefinedTableCode || pgErr.Code == pgUndefinedColumnCode {
			return booking.WrapError(errorOperationStore, errorSubjectRow, errorCodeSchema, errors.Join(ErrSchemaMismatch, err))
		}
		return booking.WrapError(errorOperationStore, errorSubjectRow, errorCodeInsert, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		err = errors.Join(booking.ErrStoreUnavailable, err)
	} else {
		var connectErr *pgconn.ConnectError
		if errors.As(err, &connectErr) {
			err = errors.Join(booking.ErrStoreUnavailable, err)
		}
	}
	return booking.WrapError(errorOperationStore, errorSubjectRow, errorCodeInsert, err)
}
