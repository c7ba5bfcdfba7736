package query

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alecthomas/assert/v2"
	"github.com/stretchr/testify/require"

	"github.com/shibukawa/sqltmpl"
	"github.com/shibukawa/sqltmpl/adapter"
	"github.com/shibukawa/sqltmpl/pagination"
)

// TestIsDangerousQuery tests the dangerous query detection
func TestIsDangerousQuery(t *testing.T) {
	testCases := []struct {
		SQL      string
		Expected bool
	}{
		{SQL: "SELECT * FROM users", Expected: false},
		{SQL: "SELECT * FROM users WHERE id = 1", Expected: false},
		{SQL: "DELETE FROM users", Expected: true},
		{SQL: "DELETE FROM users WHERE id = 1", Expected: false},
		{SQL: "UPDATE users SET active = false", Expected: true},
		{SQL: "UPDATE users SET active = false WHERE id = 1", Expected: false},
		{SQL: "  DELETE  FROM  users  ", Expected: false},
		{SQL: "delete from users", Expected: true},
		{SQL: "update users set name = 'test'", Expected: true},
	}

	for _, tc := range testCases {
		t.Run(tc.SQL, func(t *testing.T) {
			assert.Equal(t, tc.Expected, IsDangerousQuery(tc.SQL))
		})
	}
}

func TestReturnsRows(t *testing.T) {
	testCases := []struct {
		SQL      string
		Expected bool
	}{
		{"SELECT 1", true},
		{"  (SELECT 1) UNION (SELECT 2)", true},
		{"with t AS (SELECT 1) SELECT * FROM t", true},
		{"\nVALUES (1)", true},
		{"INSERT INTO t (a) VALUES ($1)", false},
		{"INSERT INTO t (a) VALUES ($1) RETURNING id", true},
		{"UPDATE t SET a = 1 WHERE b = 2", false},
		{"DELETE FROM t WHERE a = 1", false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.Expected, ReturnsRows(tc.SQL), tc.SQL)
	}
}

func newMockExecutor(t *testing.T, dialect sqltmpl.Dialect) (*Executor, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	runner, err := adapter.New(db, dialect, adapter.WithStatementCache(0))
	require.NoError(t, err)

	return NewExecutor(runner), mock
}

func TestExecutor_Run(t *testing.T) {
	exec, mock := newMockExecutor(t, sqltmpl.DialectPostgres)

	tmpl, err := Compile(`SELECT id, tags FROM posts WHERE author_id = /*= author */1 AND id IN /*=* ids */(1)`)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, tags FROM posts WHERE author_id = $1 AND id IN ($2, $3)").
		WithArgs("ann", 10, 11).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tags"}).
			AddRow(int64(10), []byte(`["go","sql"]`)).
			AddRow(int64(11), []byte("plain")))

	res, err := exec.Run(t.Context(), tmpl, map[string]any{"author": "ann", "ids": []int{10, 11}}, Options{Timeout: time.Second})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "tags"}, res.Columns)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, [][]any{{int64(10), []any{"go", "sql"}}, {int64(11), "plain"}}, res.Rows)
	assert.Equal(t, []any{"ann", 10, 11}, res.Args)
	assert.Zero(t, res.Page)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_RunPaged(t *testing.T) {
	exec, mock := newMockExecutor(t, sqltmpl.DialectMySQL)

	tmpl, err := Compile(`SELECT id FROM posts WHERE author_id = /*= author */1 ORDER BY id`)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT COUNT(*) FROM (SELECT id FROM posts WHERE author_id = ?) AS _count_subquery").
		WithArgs("ann").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))
	mock.ExpectQuery("SELECT id FROM posts WHERE author_id = ? ORDER BY id LIMIT ? OFFSET ?").
		WithArgs("ann", 2, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)).AddRow(int64(4)))

	res, err := exec.Run(t.Context(), tmpl, map[string]any{"author": "ann"}, Options{
		Page:         &pagination.Request{Number: 2, Size: 2},
		StripOrderBy: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Count)
	assert.Equal(t, &pagination.Info{TotalRows: 5, PageSize: 2, PageCount: 3}, res.Page)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_RunInvalidPage(t *testing.T) {
	exec, mock := newMockExecutor(t, sqltmpl.DialectMySQL)

	tmpl, err := Compile(`SELECT id FROM posts`)
	require.NoError(t, err)

	_, err = exec.Run(t.Context(), tmpl, nil, Options{Page: &pagination.Request{Number: 0, Size: 10}})
	assert.IsError(t, err, sqltmpl.ErrInvalidPageNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_RunStatement(t *testing.T) {
	exec, mock := newMockExecutor(t, sqltmpl.DialectSQLite)

	tmpl, err := Compile(`UPDATE posts SET draft = 0 WHERE author_id = /*= author */1`)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE posts SET draft = 0 WHERE author_id = ?").
		WithArgs("ann").
		WillReturnResult(sqlmock.NewResult(0, 4))

	res, err := exec.Run(t.Context(), tmpl, map[string]any{"author": "ann"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.RowsAffected)
	assert.Equal(t, 0, res.Count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_RunDangerous(t *testing.T) {
	exec, mock := newMockExecutor(t, sqltmpl.DialectSQLite)

	tmpl, err := Compile(`DELETE FROM posts`)
	require.NoError(t, err)

	_, err = exec.Run(t.Context(), tmpl, nil, Options{})
	assert.IsError(t, err, ErrDangerousQuery)

	mock.ExpectExec("DELETE FROM posts").WillReturnResult(sqlmock.NewResult(0, 9))

	res, err := exec.Run(t.Context(), tmpl, nil, Options{ExecuteDangerousQuery: true})
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.RowsAffected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFormatterOutput(t *testing.T) {
	result := &Result{
		Columns:  []string{"id", "name"},
		Rows:     [][]any{{int64(1), "alice"}, {int64(2), nil}},
		Count:    2,
		Duration: 3 * time.Millisecond,
		Page:     &pagination.Info{TotalRows: 4, PageSize: 2, PageCount: 2},
	}

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		assert.NoError(t, NewFormatter(FormatTable).Format(result, &buf))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		assert.Equal(t, 5, len(lines))
		assert.Equal(t, "id   name", strings.TrimRight(lines[0], " "))
		assert.Equal(t, "2    NULL", strings.TrimRight(lines[3], " "))
		assert.Equal(t, "2 rows (3ms), 4 total rows, 2 pages of 2", lines[4])
	})

	t.Run("markdown", func(t *testing.T) {
		var buf bytes.Buffer
		assert.NoError(t, NewFormatter(FormatMarkdown).Format(result, &buf))
		assert.Contains(t, buf.String(), "| id | name |\n| --- | --- |\n| 1 | alice |\n")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		assert.NoError(t, NewFormatter(FormatJSON).Format(result, &buf))
		assert.Contains(t, buf.String(), `"name": "alice"`)
		assert.Contains(t, buf.String(), `"page_count": 2`)
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		assert.NoError(t, NewFormatter(FormatCSV).Format(result, &buf))
		assert.Equal(t, "id,name\n1,alice\n2,NULL\n", buf.String())
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		assert.NoError(t, NewFormatter(FormatYAML).Format(result, &buf))
		assert.Contains(t, buf.String(), "name: alice")
		assert.Contains(t, buf.String(), "total_rows: 4")
	})

	t.Run("invalid", func(t *testing.T) {
		var buf bytes.Buffer
		assert.IsError(t, NewFormatter("xml").Format(result, &buf), ErrInvalidOutputFormat)
		assert.False(t, IsValidOutputFormat("xml"))
		assert.True(t, IsValidOutputFormat("JSON"))
	})
}
