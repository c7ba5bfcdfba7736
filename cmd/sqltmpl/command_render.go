package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/shibukawa/sqltmpl"
	"github.com/shibukawa/sqltmpl/pagination"
	"github.com/shibukawa/sqltmpl/query"
	"github.com/shibukawa/sqltmpl/render"
)

// RenderCmd represents the render command
type RenderCmd struct {
	TemplateFile string   `arg:"" help:"SQL template file (.sql)" type:"path"`
	ParamsFile   string   `short:"p" name:"params" help:"Parameters file (JSON/YAML)" type:"path"`
	Param        []string `name:"param" help:"Individual parameter (key=value; prefix d: for decimal, u: for UUID, s: for string)"`
	Dialect      string   `name:"dialect" help:"Target dialect (postgres, mysql, mariadb, sqlite)"`
	Environment  string   `name:"env" help:"Take the dialect of this database from config"`
	Page         int64    `name:"page" help:"Render the query for this page (1-based)"`
	PageSize     int64    `name:"page-size" help:"Rows per page (defaults to query.page_size)"`
	Count        bool     `name:"count" help:"Also render the row count query"`
	StripOrderBy bool     `name:"strip-order-by" help:"Drop the outer ORDER BY from the count query"`
}

// Run executes the render command
func (cmd *RenderCmd) Run(ctx *Context) error {
	return cmd.run(ctx, os.Stdout)
}

func (cmd *RenderCmd) run(ctx *Context, out io.Writer) error {
	config, err := sqltmpl.LoadConfig(ctx.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dialect, err := cmd.dialect(config)
	if err != nil {
		return err
	}

	tmpl, err := loadTemplate(config, cmd.TemplateFile)
	if err != nil {
		return err
	}

	params, err := loadParameters(ctx, cmd.ParamsFile, cmd.Param)
	if err != nil {
		return fmt.Errorf("failed to load parameters: %w", err)
	}

	q, err := tmpl.Render(dialect, params, query.WithPersistent(config.Query.IsPersistent()))
	if err != nil {
		return err
	}

	var countOpts []pagination.CountOption
	if cmd.StripOrderBy || config.Query.StripOrderBy {
		countOpts = append(countOpts, pagination.StripOrderBy())
	}

	if cmd.Count {
		count, err := pagination.CountQuery(q, dialect, countOpts...)
		if err != nil {
			return err
		}

		printQuery(out, ctx, "Count SQL", count)
	}

	if cmd.Page > 0 {
		size := cmd.PageSize
		if size == 0 {
			size = config.Query.PageSize
		}

		page, err := pagination.PageQuery(q, pagination.Request{Number: cmd.Page, Size: size}, dialect)
		if err != nil {
			return err
		}

		printQuery(out, ctx, fmt.Sprintf("Page %d SQL", cmd.Page), page)

		return nil
	}

	printQuery(out, ctx, "Generated SQL", q)

	return nil
}

func (cmd *RenderCmd) dialect(config *sqltmpl.Config) (sqltmpl.Dialect, error) {
	if cmd.Dialect != "" {
		return sqltmpl.ParseDialect(cmd.Dialect)
	}

	if cmd.Environment != "" {
		if _, ok := config.Databases[cmd.Environment]; !ok {
			return "", fmt.Errorf("%w: %s", ErrEnvironmentNotFound, cmd.Environment)
		}
	}

	return config.DatabaseDialect(cmd.Environment)
}

// loadTemplate compiles the template through a cache sized from config.
func loadTemplate(config *sqltmpl.Config, path string) (*query.Template, error) {
	if !fileExists(path) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
	}

	cache := query.NewCache(config.Cache.Size, config.Cache.TTL)

	return cache.Load(path)
}

// printQuery prints SQL in cyan and the numbered arguments in yellow.
// Quiet mode prints the bare SQL only.
func printQuery(out io.Writer, ctx *Context, title string, q *render.Query) {
	if ctx.Quiet {
		fmt.Fprintln(out, q.SQL())
		return
	}

	color.New(color.FgBlue).Fprintf(out, "%s:\n", title)
	color.New(color.FgCyan).Fprintln(out, q.SQL())

	if q.Len() > 0 {
		color.New(color.FgBlue).Fprintln(out, "Parameters:")

		args := color.New(color.FgYellow)
		for i, arg := range q.Args() {
			args.Fprintf(out, "  %d: %v (%T)\n", i+1, arg, arg)
		}
	}

	fmt.Fprintln(out)
}
