package render

import "slices"

// Args is the positionally ordered argument list. Index i belongs to the
// i-th placeholder in the SQL text.
type Args []any

// Clone returns an independent copy.
func (a Args) Clone() Args {
	if a == nil {
		return nil
	}

	return slices.Clone(a)
}

// Query is a rendered statement: SQL text plus its arguments.
// A Query is immutable; derived queries are new values.
type Query struct {
	sql        string
	args       Args
	persistent bool
}

// NewQuery wraps hand-written SQL whose placeholders already match args.
func NewQuery(sql string, args ...any) *Query {
	return &Query{sql: sql, args: Args(args).Clone(), persistent: true}
}

// SQL returns the statement text.
func (q *Query) SQL() string {
	return q.sql
}

// Args returns a copy of the arguments.
func (q *Query) Args() Args {
	return q.args.Clone()
}

// Len returns the number of arguments.
func (q *Query) Len() int {
	return len(q.args)
}

// Persistent reports whether the statement should be prepared and cached
// by the executor. Queries are persistent unless disabled.
func (q *Query) Persistent() bool {
	return q.persistent
}

// WithPersistent returns a copy with the persistent flag set.
func (q *Query) WithPersistent(persistent bool) *Query {
	return &Query{sql: q.sql, args: q.args, persistent: persistent}
}

// Derive returns a new Query with the given SQL, the receiver's arguments
// followed by extra, and the receiver's persistent flag.
func (q *Query) Derive(sql string, extra ...any) *Query {
	args := make(Args, 0, len(q.args)+len(extra))
	args = append(args, q.args...)
	args = append(args, extra...)

	return &Query{sql: sql, args: args, persistent: q.persistent}
}
