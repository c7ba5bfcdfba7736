package main

import (
	"fmt"
	"strings"

	"github.com/shibukawa/sqltmpl"
)

// normalizeSQLDriverName maps user facing names to registered database/sql drivers.
func normalizeSQLDriverName(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return "pgx"
	case "mysql", "mariadb":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite3"
	default:
		return strings.ToLower(strings.TrimSpace(driver))
	}
}

// determineDriver guesses the driver from a connection string and returns
// the DSN in the form that driver expects.
func determineDriver(connectionString string) (string, string) {
	switch {
	case strings.HasPrefix(connectionString, "postgres://"), strings.HasPrefix(connectionString, "postgresql://"):
		return "pgx", connectionString
	case strings.HasPrefix(connectionString, "mysql://"):
		return "mysql", strings.TrimPrefix(connectionString, "mysql://")
	case strings.HasPrefix(connectionString, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(connectionString, "sqlite://")
	case strings.HasSuffix(connectionString, ".db"), strings.HasSuffix(connectionString, ".sqlite"),
		strings.HasPrefix(connectionString, "file:"), connectionString == ":memory:":
		return "sqlite3", connectionString
	case strings.Contains(connectionString, "@tcp("):
		return "mysql", connectionString
	}

	return "pgx", connectionString
}

type connection struct {
	Driver  string
	DSN     string
	Dialect sqltmpl.Dialect
}

// resolveConnection picks the database from --env, --db or the "default"
// environment of the config. The dialect is left as any unless configured,
// so it is detected from the live connection.
func resolveConnection(config *sqltmpl.Config, env, dsn, driver, dialect string) (connection, error) {
	var conn connection

	switch {
	case env != "" || (dsn == "" && len(config.Databases) > 0):
		if len(config.Databases) == 0 {
			return conn, ErrNoDatabasesConfigured
		}

		if env == "" {
			env = "default"
		}

		db, ok := config.Databases[env]
		if !ok {
			return conn, fmt.Errorf("%w: %s", ErrEnvironmentNotFound, env)
		}

		conn.Driver = normalizeSQLDriverName(db.Driver)
		conn.DSN = db.Connection

		if conn.Driver == "" {
			conn.Driver, conn.DSN = determineDriver(db.Connection)
		}

		if dialect == "" {
			dialect = db.Dialect
		}
	case dsn != "":
		conn.Driver, conn.DSN = determineDriver(dsn)
		if driver != "" {
			conn.Driver = normalizeSQLDriverName(driver)
		}
	default:
		return conn, fmt.Errorf("%w: use --db or --env", ErrMissingDBOrEnv)
	}

	if dialect == "" {
		conn.Dialect = sqltmpl.DialectAny
		return conn, nil
	}

	d, err := sqltmpl.ParseDialect(dialect)
	if err != nil {
		return conn, err
	}

	conn.Dialect = d

	return conn, nil
}
