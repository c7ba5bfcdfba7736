package adapter

import (
	"context"
	"database/sql"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shibukawa/sqltmpl"
	"github.com/shibukawa/sqltmpl/render"
)

// PgxTarget is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type PgxTarget interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var (
	_ PgxTarget = (*pgxpool.Pool)(nil)
	_ PgxTarget = (*pgx.Conn)(nil)
	_ PgxTarget = pgx.Tx(nil)
)

// PgxExecutor runs queries through the native pgx interface. pgx keeps its
// own statement cache, so non-persistent queries only switch the exec mode.
type PgxExecutor struct {
	target PgxTarget
}

// NewPgx wraps a pgx pool, connection or transaction.
func NewPgx(target PgxTarget) *PgxExecutor {
	return &PgxExecutor{target: target}
}

// Dialect is always DialectPostgres.
func (e *PgxExecutor) Dialect() sqltmpl.Dialect {
	return sqltmpl.DialectPostgres
}

func pgxArgs(q *render.Query) []any {
	args := q.Args()
	if q.Persistent() {
		return args
	}

	return append([]any{pgx.QueryExecModeExec}, args...)
}

// Execute runs a statement and returns the number of affected rows.
func (e *PgxExecutor) Execute(ctx context.Context, q *render.Query) (int64, error) {
	log := startQueryLog(ctx, sqltmpl.DialectPostgres, QueryTypeExec, q.SQL(), q.Args(), q.Persistent())

	tag, err := e.target.Exec(ctx, q.SQL(), pgxArgs(q)...)
	log.setRowsAffected(tag.RowsAffected())
	log.finish(ctx, err)

	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

// FetchAll returns every row.
func (e *PgxExecutor) FetchAll(ctx context.Context, q *render.Query) ([]Row, error) {
	var result []Row

	for row, err := range e.Rows(ctx, q) {
		if err != nil {
			return nil, err
		}

		result = append(result, row)
	}

	return result, nil
}

// FetchOptional returns the first row, or nil when there is none.
func (e *PgxExecutor) FetchOptional(ctx context.Context, q *render.Query) (*Row, error) {
	for row, err := range e.Rows(ctx, q) {
		if err != nil {
			return nil, err
		}

		return &row, nil
	}

	return nil, nil
}

// FetchScalar scans the first column of the first row into dest.
// It returns sql.ErrNoRows when the result is empty.
func (e *PgxExecutor) FetchScalar(ctx context.Context, q *render.Query, dest any) (err error) {
	log := startQueryLog(ctx, sqltmpl.DialectPostgres, QueryTypeSelect, q.SQL(), q.Args(), q.Persistent())
	defer func() { log.finish(ctx, err) }()

	rows, err := e.target.Query(ctx, q.SQL(), pgxArgs(q)...)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}

		return sql.ErrNoRows
	}

	dests := make([]any, len(rows.FieldDescriptions()))
	dests[0] = dest

	for i := 1; i < len(dests); i++ {
		dests[i] = new(any)
	}

	if err := rows.Scan(dests...); err != nil {
		return err
	}

	rows.Close()

	return rows.Err()
}

// Rows streams the result.
func (e *PgxExecutor) Rows(ctx context.Context, q *render.Query) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		var err error

		log := startQueryLog(ctx, sqltmpl.DialectPostgres, QueryTypeSelect, q.SQL(), q.Args(), q.Persistent())
		defer func() { log.finish(ctx, err) }()

		rows, err := e.target.Query(ctx, q.SQL(), pgxArgs(q)...)
		if err != nil {
			yield(Row{}, err)
			return
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()

		columns := make([]string, len(fields))
		for i, f := range fields {
			columns[i] = f.Name
		}

		for rows.Next() {
			var values []any

			values, err = rows.Values()
			if err != nil {
				yield(Row{}, err)
				return
			}

			if !yield(Row{Columns: columns, Values: values}, nil) {
				return
			}
		}

		if err = rows.Err(); err != nil {
			yield(Row{}, err)
		}
	}
}
