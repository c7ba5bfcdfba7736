package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"github.com/shibukawa/sqltmpl"
)

// DetectDialect reports the concrete dialect behind a pool. Known drivers are
// recognized by type; other drivers are identified by version queries.
func DetectDialect(ctx context.Context, db *sql.DB) (sqltmpl.Dialect, error) {
	switch db.Driver().(type) {
	case *stdlib.Driver:
		return sqltmpl.DialectPostgres, nil
	case *mysql.MySQLDriver:
		return mysqlFlavor(ctx, db), nil
	case *sqlite3.SQLiteDriver:
		return sqltmpl.DialectSQLite, nil
	}

	return queryDialect(ctx, db)
}

func queryDialect(ctx context.Context, db *sql.DB) (sqltmpl.Dialect, error) {
	var version string

	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err == nil {
		switch {
		case strings.Contains(version, "PostgreSQL"):
			return sqltmpl.DialectPostgres, nil
		case strings.Contains(version, "MariaDB"):
			return sqltmpl.DialectMariaDB, nil
		default:
			return sqltmpl.DialectMySQL, nil
		}
	}

	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err == nil {
		return sqltmpl.DialectSQLite, nil
	}

	return "", fmt.Errorf("%w: cannot detect dialect of driver %T", sqltmpl.ErrUnsupportedDialect, db.Driver())
}

// mysqlFlavor separates MariaDB from MySQL; both share one driver.
func mysqlFlavor(ctx context.Context, db *sql.DB) sqltmpl.Dialect {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err == nil && strings.Contains(version, "MariaDB") {
		return sqltmpl.DialectMariaDB
	}

	return sqltmpl.DialectMySQL
}
