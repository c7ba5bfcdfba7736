package adapter

import (
	"context"
	"database/sql"
	"runtime"
	"strings"
	"time"

	"github.com/shibukawa/sqltmpl"
)

// loggingConfig controls query logging behaviour stored on context.
type loggingConfig struct {
	logger                    LoggerFunc
	includeStack              bool
	stackDepth                int
	explainMode               ExplainMode
	explainSlowQueryThreshold time.Duration
}

// LoggerOpt configures optional logger behaviour passed to WithLogger.
type LoggerOpt struct {
	IncludeStack              bool
	StackDepth                int
	ExplainMode               ExplainMode
	ExplainSlowQueryThreshold time.Duration
}

// ExplainMode defines how EXPLAIN should be executed.
type ExplainMode int

const (
	ExplainModeNone ExplainMode = iota
	ExplainModePlan
	ExplainModeAnalyze
)

// ParseExplainMode converts a config value ("", "plan", "analyze").
func ParseExplainMode(s string) ExplainMode {
	switch s {
	case "plan":
		return ExplainModePlan
	case "analyze":
		return ExplainModeAnalyze
	default:
		return ExplainModeNone
	}
}

// LoggerFunc receives QueryLogEntry events.
type LoggerFunc func(context.Context, QueryLogEntry)

// QueryType categorizes queries for logging.
type QueryType string

const (
	QueryTypeSelect QueryType = "select"
	QueryTypeExec   QueryType = "exec"
)

// ExplainResult holds the captured plan text.
type ExplainResult struct {
	QueryPlan string
}

// QueryLogEntry represents a single query execution event.
type QueryLogEntry struct {
	SQL          string
	Args         []any
	Dialect      sqltmpl.Dialect
	QueryType    QueryType
	Persistent   bool
	StartAt      time.Time
	EndAt        time.Time
	Duration     time.Duration
	RowsAffected int64
	StackTrace   []runtime.Frame
	Explain      *ExplainResult
	Error        string
}

type loggerKey struct{}

// WithLogger stores logging configuration on the context. Executors report
// every query run with that context.
func WithLogger(ctx context.Context, logger LoggerFunc, cfg ...LoggerOpt) context.Context {
	var opt LoggerOpt
	if len(cfg) > 0 {
		opt = cfg[0]
	}

	if opt.IncludeStack && opt.StackDepth <= 0 {
		opt.StackDepth = 16
	}

	if opt.ExplainSlowQueryThreshold < 0 {
		opt.ExplainSlowQueryThreshold = 0
	}

	return context.WithValue(ctx, loggerKey{}, &loggingConfig{
		logger:                    logger,
		includeStack:              opt.IncludeStack,
		stackDepth:                opt.StackDepth,
		explainMode:               opt.ExplainMode,
		explainSlowQueryThreshold: opt.ExplainSlowQueryThreshold,
	})
}

// queryLogger coordinates per-query logging lifecycle.
type queryLogger struct {
	cfg     *loggingConfig
	entry   QueryLogEntry
	explain DBExecutor
}

// startQueryLog returns nil when no logger is configured; all methods accept a nil receiver.
func startQueryLog(ctx context.Context, dialect sqltmpl.Dialect, queryType QueryType, sql string, args []any, persistent bool) *queryLogger {
	cfg, _ := ctx.Value(loggerKey{}).(*loggingConfig)
	if cfg == nil || cfg.logger == nil {
		return nil
	}

	l := &queryLogger{cfg: cfg}
	l.entry = QueryLogEntry{
		SQL:        sql,
		Dialect:    dialect,
		QueryType:  queryType,
		Persistent: persistent,
		StartAt:    time.Now(),
	}

	if len(args) > 0 {
		l.entry.Args = append([]any(nil), args...)
	}

	if cfg.includeStack {
		l.entry.StackTrace = captureStackTrace(cfg.stackDepth)
	}

	return l
}

// withExplain enables EXPLAIN capture through executor.
func (l *queryLogger) withExplain(executor DBExecutor) *queryLogger {
	if l != nil {
		l.explain = executor
	}

	return l
}

func (l *queryLogger) setRowsAffected(n int64) {
	if l != nil {
		l.entry.RowsAffected = n
	}
}

// finish writes the entry with the last error.
func (l *queryLogger) finish(ctx context.Context, err error) {
	if l == nil {
		return
	}

	entry := l.entry
	entry.EndAt = time.Now()
	entry.Duration = entry.EndAt.Sub(entry.StartAt)

	if err != nil {
		entry.Error = err.Error()
	}

	if err == nil && entry.QueryType == QueryTypeSelect && l.explain != nil && l.shouldCaptureExplain(entry.Duration) {
		entry.Explain = runExplain(ctx, l.explain, l.cfg.explainMode, entry.Dialect, entry.SQL, entry.Args)
	}

	l.cfg.logger(ctx, entry)
}

func (l *queryLogger) shouldCaptureExplain(duration time.Duration) bool {
	if l.cfg.explainMode == ExplainModeNone {
		return false
	}

	threshold := l.cfg.explainSlowQueryThreshold
	if threshold > 0 && duration < threshold {
		return false
	}

	return true
}

func runExplain(ctx context.Context, executor DBExecutor, mode ExplainMode, dialect sqltmpl.Dialect, query string, args []any) *ExplainResult {
	rows, err := executor.QueryContext(ctx, buildExplainSQL(mode, dialect, query), args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil
	}

	raw := make([]sql.RawBytes, len(columns))

	dests := make([]any, len(columns))
	for i := range raw {
		dests[i] = &raw[i]
	}

	var planLines []string

	for rows.Next() {
		if err := rows.Scan(dests...); err != nil {
			return nil
		}

		var builder strings.Builder

		for idx, col := range raw {
			if idx > 0 {
				builder.WriteByte('\t')
			}

			if col == nil {
				builder.WriteString("NULL")
				continue
			}

			builder.Write(col)
		}

		planLines = append(planLines, builder.String())
	}

	if rows.Err() != nil || len(planLines) == 0 {
		return nil
	}

	return &ExplainResult{QueryPlan: strings.Join(planLines, "\n")}
}

func buildExplainSQL(mode ExplainMode, dialect sqltmpl.Dialect, query string) string {
	if dialect == sqltmpl.DialectSQLite {
		return "EXPLAIN QUERY PLAN " + query
	}

	if mode == ExplainModeAnalyze {
		return "EXPLAIN ANALYZE " + query
	}

	return "EXPLAIN " + query
}

func captureStackTrace(depth int) []runtime.Frame {
	pcs := make([]uintptr, depth)
	n := runtime.Callers(4, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])

	var result []runtime.Frame

	for {
		frame, more := frames.Next()
		result = append(result, frame)

		if !more {
			break
		}
	}

	return result
}
