package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shibukawa/sqltmpl/adapter"
	"github.com/shibukawa/sqltmpl/pagination"
	"github.com/shibukawa/sqltmpl/render"
)

// Error definitions
var (
	ErrDatabaseConnection = errors.New("database connection failed")
	ErrDangerousQuery     = errors.New("dangerous query detected")
)

// Options contains options for running a template
type Options struct {
	// Page requests one page of the result together with page info.
	Page *pagination.Request
	// StripOrderBy drops the outer ORDER BY from the count query.
	StripOrderBy bool
	// Timeout bounds the whole run when positive.
	Timeout time.Duration
	// ExecuteDangerousQuery allows DELETE and UPDATE without WHERE.
	ExecuteDangerousQuery bool
}

// Result represents the result of a template run
type Result struct {
	SQL          string           `json:"sql"`
	Args         []any            `json:"args"`
	Duration     time.Duration    `json:"duration"`
	Columns      []string         `json:"columns,omitempty"`
	Rows         [][]any          `json:"rows,omitempty"`
	Count        int              `json:"count"`
	RowsAffected int64            `json:"rows_affected,omitempty"`
	Page         *pagination.Info `json:"page,omitempty"`
}

// Executor renders templates for its runner's dialect and runs them.
type Executor struct {
	runner adapter.QueryRunner
}

// NewExecutor creates a new template executor
func NewExecutor(runner adapter.QueryRunner) *Executor {
	return &Executor{runner: runner}
}

// Run renders tmpl against record and executes it. Statements that do not
// return rows report the affected row count instead.
func (e *Executor) Run(ctx context.Context, tmpl *Template, record any, opts Options, renderOpts ...RenderOption) (*Result, error) {
	q, err := tmpl.Render(e.runner.Dialect(), record, renderOpts...)
	if err != nil {
		return nil, err
	}

	return e.RunQuery(ctx, q, opts)
}

// RunQuery executes an already rendered query.
func (e *Executor) RunQuery(ctx context.Context, q *render.Query, opts Options) (*Result, error) {
	if !opts.ExecuteDangerousQuery && IsDangerousQuery(q.SQL()) {
		return nil, fmt.Errorf("%w: %s", ErrDangerousQuery, q.SQL())
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	result := &Result{SQL: q.SQL(), Args: q.Args()}
	start := time.Now()

	if !ReturnsRows(q.SQL()) {
		n, err := e.runner.Execute(ctx, q)
		if err != nil {
			return nil, err
		}

		result.RowsAffected = n
		result.Duration = time.Since(start)

		return result, nil
	}

	var rows []adapter.Row

	if opts.Page != nil {
		var countOpts []pagination.CountOption
		if opts.StripOrderBy {
			countOpts = append(countOpts, pagination.StripOrderBy())
		}

		page, err := pagination.Fetch(ctx, e.runner, q, *opts.Page, e.runner.Dialect(), countOpts...)
		if err != nil {
			return nil, err
		}

		rows = page.Rows
		result.Page = &page.Info
	} else {
		var err error

		rows, err = e.runner.FetchAll(ctx, q)
		if err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	result.Count = len(rows)

	for _, row := range rows {
		if result.Columns == nil {
			result.Columns = row.Columns
		}

		values := make([]any, len(row.Values))
		for i, v := range row.Values {
			values[i] = convertSQLValue(v)
		}

		result.Rows = append(result.Rows, values)
	}

	return result, nil
}

// IsDangerousQuery checks if a query is dangerous (DELETE/UPDATE without WHERE)
func IsDangerousQuery(sql string) bool {
	normalizedSQL := strings.ToUpper(strings.TrimSpace(sql))

	if strings.HasPrefix(normalizedSQL, "DELETE FROM") && !strings.Contains(normalizedSQL, "WHERE") {
		return true
	}

	if strings.HasPrefix(normalizedSQL, "UPDATE") && !strings.Contains(normalizedSQL, "WHERE") {
		return true
	}

	return false
}

// ReturnsRows reports whether the statement produces a result set, judged by
// its leading keyword or a RETURNING clause.
func ReturnsRows(sql string) bool {
	normalizedSQL := strings.ToUpper(strings.TrimLeft(sql, " \t\r\n("))

	keyword, _, _ := strings.Cut(normalizedSQL, " ")
	keyword = strings.TrimSpace(keyword)

	switch keyword {
	case "SELECT", "WITH", "VALUES", "SHOW", "EXPLAIN", "PRAGMA", "TABLE", "DESCRIBE":
		return true
	}

	return strings.Contains(normalizedSQL, "RETURNING")
}

// convertSQLValue converts SQL values to appropriate Go types
func convertSQLValue(v any) any {
	value, ok := v.([]byte)
	if !ok {
		return v
	}

	str := string(value)

	if len(str) > 1 && ((str[0] == '{' && str[len(str)-1] == '}') || (str[0] == '[' && str[len(str)-1] == ']')) {
		var jsonValue any
		if err := json.Unmarshal(value, &jsonValue); err == nil {
			return jsonValue
		}
	}

	return str
}

// OpenDatabase opens a database connection
func OpenDatabase(ctx context.Context, driver, connectionString string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open(driver, connectionString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseConnection, err)
	}

	if timeout > 0 {
		db.SetConnMaxLifetime(timeout)

		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrDatabaseConnection, err)
	}

	return db, nil
}
