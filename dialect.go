package sqltmpl

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect represents supported database dialects
// This type is shared across all packages
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
	DialectMariaDB  Dialect = "mariadb"
	// DialectAny is resolved from the live connection before the first render.
	DialectAny Dialect = "any"
)

// ParseDialect converts a backend or driver name into a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	case "mariadb":
		return DialectMariaDB, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "any":
		return DialectAny, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, name)
	}
}

// IsResolved reports whether the dialect names a concrete backend.
func (d Dialect) IsResolved() bool {
	_, ok := descriptors[d]
	return ok
}

// Descriptor returns the placeholder syntax of the dialect.
// DialectAny has no descriptor until it is resolved against a connection.
func (d Dialect) Descriptor() (Descriptor, error) {
	desc, ok := descriptors[d]
	if !ok {
		if d == DialectAny {
			return Descriptor{}, fmt.Errorf("%w: dialect %q must be resolved from a connection first", ErrUnsupportedDialect, d)
		}

		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnsupportedDialect, d)
	}

	return desc, nil
}

// PlaceholderStyle tells whether placeholders carry a visible index.
type PlaceholderStyle int

const (
	PlaceholderAnonymous PlaceholderStyle = iota + 1 // ?
	PlaceholderNumbered                              // $1, $2, ...
)

func (s PlaceholderStyle) String() string {
	switch s {
	case PlaceholderAnonymous:
		return "anonymous"
	case PlaceholderNumbered:
		return "numbered"
	default:
		return "unknown"
	}
}

// Descriptor is pure data describing a backend's placeholder syntax.
type Descriptor struct {
	Style      PlaceholderStyle
	Token      string
	StartIndex int
}

var descriptors = map[Dialect]Descriptor{
	DialectPostgres: {Style: PlaceholderNumbered, Token: "$", StartIndex: 1},
	DialectMySQL:    {Style: PlaceholderAnonymous, Token: "?", StartIndex: 1},
	DialectMariaDB:  {Style: PlaceholderAnonymous, Token: "?", StartIndex: 1},
	DialectSQLite:   {Style: PlaceholderAnonymous, Token: "?", StartIndex: 1},
}

// Placeholder returns the token for the zero-based placeholder occurrence.
func (d Descriptor) Placeholder(position int) string {
	var b strings.Builder
	d.AppendPlaceholder(&b, position)

	return b.String()
}

// AppendPlaceholder writes the token for the zero-based placeholder occurrence.
func (d Descriptor) AppendPlaceholder(b *strings.Builder, position int) {
	b.WriteString(d.Token)

	if d.Style == PlaceholderNumbered {
		b.WriteString(strconv.Itoa(d.StartIndex + position))
	}
}
