package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/shibukawa/sqltmpl"
	"github.com/shibukawa/sqltmpl/adapter"
	"github.com/shibukawa/sqltmpl/pagination"
	"github.com/shibukawa/sqltmpl/query"
)

// QueryCmd represents the query command
type QueryCmd struct {
	TemplateFile          string   `arg:"" help:"SQL template file (.sql)" type:"path"`
	ParamsFile            string   `short:"p" name:"params" help:"Parameters file (JSON/YAML)" type:"path"`
	Param                 []string `name:"param" help:"Individual parameter (key=value; prefix d: for decimal, u: for UUID, s: for string)"`
	DBConnection          string   `name:"db" help:"Database connection string"`
	Driver                string   `name:"driver" help:"Database driver (postgres, mysql, sqlite); guessed from --db when omitted"`
	Environment           string   `name:"env" help:"Environment name from config"`
	Dialect               string   `name:"dialect" help:"Dialect override; detected from the connection when omitted"`
	Format                string   `name:"format" help:"Output format (table, json, csv, yaml, markdown)" default:"table"`
	OutputFile            string   `short:"o" name:"output" help:"Output file (defaults to stdout)" type:"path"`
	Timeout               int      `name:"timeout" help:"Query timeout in seconds (defaults to query.timeout)"`
	Page                  int64    `name:"page" help:"Fetch this page (1-based) and report page info"`
	PageSize              int64    `name:"page-size" help:"Rows per page (defaults to query.page_size)"`
	StripOrderBy          bool     `name:"strip-order-by" help:"Drop the outer ORDER BY from the count query"`
	Explain               string   `name:"explain" help:"Capture the query plan in the verbose log (plan, analyze)"`
	ExecuteDangerousQuery bool     `name:"execute-dangerous-query" help:"Execute DELETE/UPDATE queries without WHERE clause (dangerous!)"`
}

// Run executes the query command
func (cmd *QueryCmd) Run(ctx *Context) error {
	return cmd.run(ctx, os.Stdout)
}

func (cmd *QueryCmd) run(ctx *Context, out io.Writer) error {
	config, err := sqltmpl.LoadConfig(ctx.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if !query.IsValidOutputFormat(cmd.Format) {
		return fmt.Errorf("%w: %s", query.ErrInvalidOutputFormat, cmd.Format)
	}

	switch cmd.Explain {
	case "", "plan", "analyze":
	default:
		return fmt.Errorf("%w: --explain must be plan or analyze, got %q", ErrInvalidParams, cmd.Explain)
	}

	tmpl, err := loadTemplate(config, cmd.TemplateFile)
	if err != nil {
		return err
	}

	params, err := loadParameters(ctx, cmd.ParamsFile, cmd.Param)
	if err != nil {
		return fmt.Errorf("failed to load parameters: %w", err)
	}

	conn, err := resolveConnection(config, cmd.Environment, cmd.DBConnection, cmd.Driver, cmd.Dialect)
	if err != nil {
		return err
	}

	timeout := time.Duration(config.Query.Timeout) * time.Second
	if cmd.Timeout > 0 {
		timeout = time.Duration(cmd.Timeout) * time.Second
	}

	runCtx := context.Background()
	if ctx.Verbose || config.Logging.Enabled {
		explain := config.Logging.Explain
		if cmd.Explain != "" {
			explain = cmd.Explain
		}

		runCtx = adapter.WithLogger(runCtx, printQueryLog(os.Stderr), adapter.LoggerOpt{
			IncludeStack:              config.Logging.IncludeStack,
			ExplainMode:               adapter.ParseExplainMode(explain),
			ExplainSlowQueryThreshold: config.Logging.SlowQueryThreshold,
		})
	}

	db, err := query.OpenDatabase(runCtx, conn.Driver, conn.DSN, timeout)
	if err != nil {
		return err
	}
	defer db.Close()

	runner, err := adapter.Open(runCtx, db, conn.Dialect)
	if err != nil {
		return err
	}
	defer runner.Close()

	if ctx.Verbose {
		color.Blue("Using database driver: %s (%s)", conn.Driver, runner.Dialect())
	}

	opts := query.Options{
		StripOrderBy:          cmd.StripOrderBy || config.Query.StripOrderBy,
		Timeout:               timeout,
		ExecuteDangerousQuery: cmd.ExecuteDangerousQuery,
	}

	if cmd.Page > 0 {
		size := cmd.PageSize
		if size == 0 {
			size = config.Query.PageSize
		}

		opts.Page = &pagination.Request{Number: cmd.Page, Size: size}
	}

	result, err := query.NewExecutor(runner).Run(runCtx, tmpl, params, opts, query.WithPersistent(config.Query.IsPersistent()))
	if err != nil {
		if errors.Is(err, query.ErrDangerousQuery) {
			if !ctx.Quiet {
				color.Red("ERROR: %v", err)
				color.Red("\nThis query contains DELETE or UPDATE without a WHERE clause, which could affect all rows in the table.")
				color.Red("To execute this query anyway, use the --execute-dangerous-query flag.")
			}

			return err
		}

		return fmt.Errorf("%w: %w", ErrQueryExecution, err)
	}

	if cmd.OutputFile != "" {
		file, err := os.Create(cmd.OutputFile)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrOutputFileCreation, err)
		}
		defer file.Close()

		out = file
	}

	formatter := query.NewFormatter(query.OutputFormat(strings.ToLower(cmd.Format)))
	if err := formatter.Format(result, out); err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	return nil
}

// printQueryLog writes each executed statement to w.
func printQueryLog(w io.Writer) adapter.LoggerFunc {
	return func(_ context.Context, entry adapter.QueryLogEntry) {
		color.New(color.FgBlue).Fprintf(w, "[%s] %s %s\n", entry.Dialect, entry.QueryType, entry.Duration)
		color.New(color.FgCyan).Fprintln(w, entry.SQL)

		if len(entry.Args) > 0 {
			color.New(color.FgYellow).Fprintf(w, "  args: %v\n", entry.Args)
		}

		if entry.QueryType == adapter.QueryTypeExec && entry.Error == "" {
			fmt.Fprintf(w, "  rows affected: %d\n", entry.RowsAffected)
		}

		if entry.Error != "" {
			color.New(color.FgRed).Fprintf(w, "  error: %s\n", entry.Error)
		}

		if entry.Explain != nil {
			fmt.Fprintln(w, entry.Explain.QueryPlan)
		}

		for _, frame := range entry.StackTrace {
			fmt.Fprintf(w, "  at %s (%s:%d)\n", frame.Function, frame.File, frame.Line)
		}
	}
}
