package adapter

import (
	"database/sql"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/shibukawa/sqltmpl"
	"github.com/shibukawa/sqltmpl/render"
)

func TestPostgreSQLIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := t.Context()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		postgres.BasicWaitStrategies(),
	)
	assert.NoError(t, err)

	defer func() {
		assert.NoError(t, container.Terminate(ctx))
	}()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	assert.NoError(t, err)

	db, err := sql.Open("pgx", connStr)
	assert.NoError(t, err)

	defer db.Close()

	exec, err := Open(ctx, db, sqltmpl.DialectAny)
	assert.NoError(t, err)

	defer exec.Close()

	assert.Equal(t, sqltmpl.DialectPostgres, exec.Dialect())

	_, err = exec.Execute(ctx, render.NewQuery("CREATE TABLE items (id INT PRIMARY KEY, label TEXT NOT NULL)").WithPersistent(false))
	assert.NoError(t, err)

	for i := range 5 {
		_, err = exec.Execute(ctx, render.NewQuery("INSERT INTO items (id, label) VALUES ($1, $2)", i+1, "item"))
		assert.NoError(t, err)
	}

	t.Run("database/sql", func(t *testing.T) {
		var total int64

		err := exec.FetchScalar(ctx, render.NewQuery("SELECT COUNT(*) FROM (SELECT * FROM items WHERE id > $1) AS _count_subquery", 2), &total)
		assert.NoError(t, err)
		assert.Equal(t, int64(3), total)
	})

	t.Run("pgx", func(t *testing.T) {
		pool, err := pgxpool.New(ctx, connStr)
		assert.NoError(t, err)

		defer pool.Close()

		pgxExec := NewPgx(pool)

		rows, err := pgxExec.FetchAll(ctx, render.NewQuery("SELECT id, label FROM items WHERE id IN ($1, $2) ORDER BY id", 2, 4))
		assert.NoError(t, err)
		assert.Equal(t, 2, len(rows))
		assert.Equal(t, []string{"id", "label"}, rows[0].Columns)

		var total int64

		err = pgxExec.FetchScalar(ctx, render.NewQuery("SELECT COUNT(*) FROM items WHERE id <= $1", 4).WithPersistent(false), &total)
		assert.NoError(t, err)
		assert.Equal(t, int64(4), total)

		n, err := pgxExec.Execute(ctx, render.NewQuery("UPDATE items SET label = $1 WHERE id > $2", "done", 3))
		assert.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

func TestMySQLIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := t.Context()

	container, err := mysql.Run(ctx,
		"mysql:8.4",
		mysql.WithDatabase("testdb"),
		mysql.WithUsername("testuser"),
		mysql.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("port: 3306  MySQL Community Server").
				WithStartupTimeout(60*time.Second)),
	)
	assert.NoError(t, err)

	defer func() {
		assert.NoError(t, container.Terminate(ctx))
	}()

	connStr, err := container.ConnectionString(ctx)
	assert.NoError(t, err)

	db, err := sql.Open("mysql", connStr)
	assert.NoError(t, err)

	defer db.Close()

	exec, err := Open(ctx, db, "")
	assert.NoError(t, err)

	defer exec.Close()

	assert.Equal(t, sqltmpl.DialectMySQL, exec.Dialect())

	_, err = exec.Execute(ctx, render.NewQuery("CREATE TABLE items (id INT PRIMARY KEY, label VARCHAR(64) NOT NULL)").WithPersistent(false))
	assert.NoError(t, err)

	n, err := exec.Execute(ctx, render.NewQuery("INSERT INTO items (id, label) VALUES (?, ?), (?, ?)", 1, "a", 2, "b"))
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var total int64

	err = exec.FetchScalar(ctx, render.NewQuery("SELECT COUNT(*) FROM items WHERE id >= ?", 1), &total)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), total)
}
