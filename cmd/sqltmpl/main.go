package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Context represents the global context for commands
type Context struct {
	Config  string
	Verbose bool
	Quiet   bool
}

type cliArgs struct {
	Config  string     `help:"Configuration file path" default:"sqltmpl.yaml"`
	Verbose bool       `help:"Enable verbose output" short:"v"`
	Quiet   bool       `help:"Suppress output" short:"q"`
	Render  RenderCmd  `cmd:"" help:"Render a SQL template into SQL and arguments"`
	Query   QueryCmd   `cmd:"" help:"Render a SQL template and execute it"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// CLI represents the command-line interface
var CLI cliArgs

// VersionCmd represents the version command
type VersionCmd struct{}

// Run executes the version command
func (cmd *VersionCmd) Run() error {
	fmt.Println("sqltmpl v0.1.0")
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("sqltmpl"),
		kong.Description("SQL template renderer with dialect placeholders and pagination"),
	)

	appCtx := &Context{
		Config:  CLI.Config,
		Verbose: CLI.Verbose,
		Quiet:   CLI.Quiet,
	}

	err := ctx.Run(appCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
