// Package adapter runs rendered queries against a pool, a single connection or
// a transaction and materializes the result rows.
package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/shibukawa/sqltmpl"
	"github.com/shibukawa/sqltmpl/render"
)

// Sentinel errors
var (
	ErrNotPool       = errors.New("executor target cannot open connections or transactions")
	ErrExecutorClose = errors.New("executor is closed")
)

const defaultStatementCacheSize = 64

// DBExecutor interface supports sql.DB, sql.Conn, and sql.Tx
type DBExecutor interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// QueryRunner is the operation set shared by Executor and PgxExecutor.
type QueryRunner interface {
	Dialect() sqltmpl.Dialect
	Execute(ctx context.Context, q *render.Query) (int64, error)
	FetchAll(ctx context.Context, q *render.Query) ([]Row, error)
	FetchOptional(ctx context.Context, q *render.Query) (*Row, error)
	FetchScalar(ctx context.Context, q *render.Query, dest any) error
	Rows(ctx context.Context, q *render.Query) iter.Seq2[Row, error]
}

var (
	_ QueryRunner = (*Executor)(nil)
	_ QueryRunner = (*PgxExecutor)(nil)
)

// Executor runs queries on a database/sql target with a resolved dialect.
// Driver errors are returned unchanged.
type Executor struct {
	target    DBExecutor
	dialect   sqltmpl.Dialect
	cacheSize int
	stmts     *stmtCache
	closer    func() error
	closed    atomic.Bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithStatementCache sets how many prepared statements are kept for
// persistent queries. Zero or less disables preparation.
func WithStatementCache(size int) Option {
	return func(e *Executor) {
		e.cacheSize = size
	}
}

// New wraps a pool, connection or transaction. The dialect must be resolved;
// use Open to detect it from a pool.
func New(target DBExecutor, dialect sqltmpl.Dialect, opts ...Option) (*Executor, error) {
	if !dialect.IsResolved() {
		return nil, fmt.Errorf("%w: %q cannot run queries before it is resolved", sqltmpl.ErrUnsupportedDialect, dialect)
	}

	e := &Executor{target: target, dialect: dialect, cacheSize: defaultStatementCacheSize}
	for _, opt := range opts {
		opt(e)
	}

	if e.cacheSize > 0 {
		stmts, err := newStmtCache(e.cacheSize)
		if err != nil {
			return nil, err
		}

		e.stmts = stmts
	}

	return e, nil
}

// Open wraps a pool, resolving DialectAny from the live connection first.
func Open(ctx context.Context, db *sql.DB, configured sqltmpl.Dialect, opts ...Option) (*Executor, error) {
	dialect := configured
	if dialect == sqltmpl.DialectAny || dialect == "" {
		detected, err := DetectDialect(ctx, db)
		if err != nil {
			return nil, err
		}

		dialect = detected
	}

	return New(db, dialect, opts...)
}

// Dialect returns the resolved dialect of the target.
func (e *Executor) Dialect() sqltmpl.Dialect {
	return e.dialect
}

// Target returns the wrapped pool, connection or transaction.
func (e *Executor) Target() DBExecutor {
	return e.target
}

// Execute runs a statement and returns the number of affected rows.
func (e *Executor) Execute(ctx context.Context, q *render.Query) (int64, error) {
	log := startQueryLog(ctx, e.dialect, QueryTypeExec, q.SQL(), q.Args(), q.Persistent())

	n, err := e.execute(ctx, q)
	log.setRowsAffected(n)
	log.finish(ctx, err)

	return n, err
}

func (e *Executor) execute(ctx context.Context, q *render.Query) (int64, error) {
	var (
		result sql.Result
		err    error
	)

	stmt, release, err := e.statement(ctx, q)
	if err != nil {
		return 0, err
	}

	if stmt != nil {
		result, err = stmt.ExecContext(ctx, q.Args()...)
		release()
	} else {
		result, err = e.target.ExecContext(ctx, q.SQL(), q.Args()...)
	}

	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// FetchAll returns every row.
func (e *Executor) FetchAll(ctx context.Context, q *render.Query) ([]Row, error) {
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
func (e *Executor) FetchOptional(ctx context.Context, q *render.Query) (*Row, error) {
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
func (e *Executor) FetchScalar(ctx context.Context, q *render.Query, dest any) (err error) {
	log := startQueryLog(ctx, e.dialect, QueryTypeSelect, q.SQL(), q.Args(), q.Persistent()).withExplain(e.target)
	defer func() { log.finish(ctx, err) }()

	rows, err := e.query(ctx, q)
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

	columns, err := rows.Columns()
	if err != nil {
		return err
	}

	dests := make([]any, len(columns))
	dests[0] = dest

	for i := 1; i < len(dests); i++ {
		dests[i] = new(any)
	}

	if err := rows.Scan(dests...); err != nil {
		return err
	}

	return rows.Close()
}

// Rows streams the result. Iteration stops at the first error, which is
// yielded with a zero Row.
func (e *Executor) Rows(ctx context.Context, q *render.Query) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		var err error

		log := startQueryLog(ctx, e.dialect, QueryTypeSelect, q.SQL(), q.Args(), q.Persistent()).withExplain(e.target)
		defer func() { log.finish(ctx, err) }()

		rows, err := e.query(ctx, q)
		if err != nil {
			yield(Row{}, err)
			return
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			yield(Row{}, err)
			return
		}

		for rows.Next() {
			var row Row

			row, err = scanRow(rows, columns)
			if err != nil {
				yield(Row{}, err)
				return
			}

			if !yield(row, nil) {
				return
			}
		}

		if err = rows.Err(); err != nil {
			yield(Row{}, err)
		}
	}
}

func (e *Executor) query(ctx context.Context, q *render.Query) (*sql.Rows, error) {
	stmt, release, err := e.statement(ctx, q)
	if err != nil {
		return nil, err
	}

	// open rows keep the statement alive after release
	if stmt != nil {
		defer release()
		return stmt.QueryContext(ctx, q.Args()...)
	}

	return e.target.QueryContext(ctx, q.SQL(), q.Args()...)
}

// statement returns the cached prepared statement and its release func, or
// nil when the query is not persistent or caching is disabled.
func (e *Executor) statement(ctx context.Context, q *render.Query) (*sql.Stmt, func(), error) {
	if e.closed.Load() {
		return nil, nil, ErrExecutorClose
	}

	if !q.Persistent() || e.stmts == nil {
		return nil, nil, nil
	}

	return e.stmts.prepare(ctx, e.target, q.SQL())
}

// Conn reserves a single connection from a pool target. The returned
// executor shares the dialect and must be closed.
func (e *Executor) Conn(ctx context.Context) (*Executor, error) {
	db, ok := e.target.(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotPool, e.target)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	child, err := New(conn, e.dialect, WithStatementCache(e.cacheSize))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	child.closer = conn.Close

	return child, nil
}

// Tx is an Executor bound to a transaction.
type Tx struct {
	*Executor
	tx *sql.Tx
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// BeginTx starts a transaction on a pool or connection target.
func (e *Executor) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	beginner, ok := e.target.(txBeginner)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotPool, e.target)
	}

	tx, err := beginner.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}

	child, err := New(tx, e.dialect, WithStatementCache(e.cacheSize))
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return &Tx{Executor: child, tx: tx}, nil
}

// Commit releases the transaction's statements and commits.
func (t *Tx) Commit() error {
	_ = t.Close()
	return t.tx.Commit()
}

// Rollback releases the transaction's statements and rolls back.
func (t *Tx) Rollback() error {
	_ = t.Close()
	return t.tx.Rollback()
}

// Close releases cached statements and, for reserved connections, returns the
// connection to the pool. The target itself is not closed otherwise.
func (e *Executor) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	if e.stmts != nil {
		e.stmts.purge()
	}

	if e.closer != nil {
		return e.closer()
	}

	return nil
}
