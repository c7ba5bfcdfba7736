// Package pagination derives count and limit/offset queries from a rendered
// query without disturbing placeholder numbering.
package pagination

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shibukawa/sqltmpl"
	"github.com/shibukawa/sqltmpl/adapter"
	"github.com/shibukawa/sqltmpl/render"
)

// Request selects one page. Number starts at 1.
type Request struct {
	Number int64
	Size   int64
}

// Validate checks the request without building any SQL.
func (r Request) Validate() error {
	if r.Number < 1 {
		return fmt.Errorf("%w: got %d", sqltmpl.ErrInvalidPageNumber, r.Number)
	}

	if err := validateSize(r.Size); err != nil {
		return err
	}

	// the offset must fit in int64
	if r.Number-1 > math.MaxInt64/r.Size {
		return fmt.Errorf("%w: page %d of size %d overflows the offset", sqltmpl.ErrInvalidPageNumber, r.Number, r.Size)
	}

	return nil
}

// Offset returns the number of rows skipped before the page.
func (r Request) Offset() int64 {
	return (r.Number - 1) * r.Size
}

// Info describes the page layout of a result set.
type Info struct {
	TotalRows int64
	PageSize  int64
	PageCount int64
}

// PageCountFor returns ceil(total/size), or 0 when total is 0.
func PageCountFor(total, size int64) int64 {
	if total <= 0 || size <= 0 {
		return 0
	}

	return (total + size - 1) / size
}

type countOptions struct {
	stripOrderBy bool
}

// CountOption configures CountQuery.
type CountOption func(*countOptions)

// StripOrderBy drops a trailing outer ORDER BY from the counted statement.
// The clause is kept when it contains placeholders.
func StripOrderBy() CountOption {
	return func(o *countOptions) {
		o.stripOrderBy = true
	}
}

// CountQuery wraps base in a row count. The arguments are reused unchanged.
func CountQuery(base *render.Query, d sqltmpl.Dialect, opts ...CountOption) (*render.Query, error) {
	if _, err := d.Descriptor(); err != nil {
		return nil, err
	}

	var o countOptions
	for _, opt := range opts {
		opt(&o)
	}

	inner := base.SQL()
	if o.stripOrderBy {
		inner = truncateOuterOrderBy(inner)
	}

	return base.Derive("SELECT COUNT(*) FROM (" + inner + ") AS _count_subquery"), nil
}

// PageQuery appends LIMIT and OFFSET placeholders after all of base's
// placeholders. base is not modified.
func PageQuery(base *render.Query, req Request, d sqltmpl.Dialect) (*render.Query, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	desc, err := d.Descriptor()
	if err != nil {
		return nil, err
	}

	if !sqltmpl.Supports(d, sqltmpl.FeatureLimitOffset) {
		return nil, fmt.Errorf("%w: %s has no LIMIT/OFFSET", sqltmpl.ErrUnsupportedDialect, d)
	}

	var sql strings.Builder

	sql.WriteString(base.SQL())
	sql.WriteString(" LIMIT ")
	desc.AppendPlaceholder(&sql, base.Len())
	sql.WriteString(" OFFSET ")
	desc.AppendPlaceholder(&sql, base.Len()+1)

	return base.Derive(sql.String(), req.Size, req.Offset()), nil
}

// ScalarFetcher reads the first column of the first row.
// *adapter.Executor and *adapter.PgxExecutor satisfy it.
type ScalarFetcher interface {
	FetchScalar(ctx context.Context, q *render.Query, dest any) error
}

// CountPage runs the count query and computes the page layout. Errors from
// the fetcher are returned as-is.
func CountPage(ctx context.Context, base *render.Query, pageSize int64, d sqltmpl.Dialect, fetcher ScalarFetcher, opts ...CountOption) (Info, error) {
	if err := validateSize(pageSize); err != nil {
		return Info{}, err
	}

	count, err := CountQuery(base, d, opts...)
	if err != nil {
		return Info{}, err
	}

	var total int64
	if err := fetcher.FetchScalar(ctx, count, &total); err != nil {
		return Info{}, err
	}

	return Info{
		TotalRows: total,
		PageSize:  pageSize,
		PageCount: PageCountFor(total, pageSize),
	}, nil
}

// PageExecutor runs both the count and the page query.
type PageExecutor interface {
	ScalarFetcher
	FetchAll(ctx context.Context, q *render.Query) ([]adapter.Row, error)
}

// Result is one fetched page.
type Result struct {
	Request Request
	Info    Info
	Rows    []adapter.Row
}

// Fetch counts the rows of base and fetches the requested page.
func Fetch(ctx context.Context, exec PageExecutor, base *render.Query, req Request, d sqltmpl.Dialect, opts ...CountOption) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	info, err := CountPage(ctx, base, req.Size, d, exec, opts...)
	if err != nil {
		return nil, err
	}

	page, err := PageQuery(base, req, d)
	if err != nil {
		return nil, err
	}

	rows, err := exec.FetchAll(ctx, page)
	if err != nil {
		return nil, err
	}

	return &Result{Request: req, Info: info, Rows: rows}, nil
}

func validateSize(size int64) error {
	if size < 1 {
		return fmt.Errorf("%w: got %d", sqltmpl.ErrInvalidPageSize, size)
	}

	return nil
}
