package query

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-yaml"
)

// ErrInvalidOutputFormat is returned for unknown output formats.
var ErrInvalidOutputFormat = errors.New("invalid output format")

// OutputFormat represents the supported output formats
type OutputFormat string

const (
	FormatTable    OutputFormat = "table"
	FormatJSON     OutputFormat = "json"
	FormatCSV      OutputFormat = "csv"
	FormatYAML     OutputFormat = "yaml"
	FormatMarkdown OutputFormat = "markdown"
)

// Formatter formats query results
type Formatter struct {
	format OutputFormat
}

// NewFormatter creates a new result formatter
func NewFormatter(format OutputFormat) *Formatter {
	return &Formatter{
		format: format,
	}
}

// Format formats query results according to the specified format
func (f *Formatter) Format(result *Result, output io.Writer) error {
	switch f.format {
	case FormatTable:
		return f.formatAsTable(result, output)
	case FormatJSON:
		return f.formatAsJSON(result, output)
	case FormatCSV:
		return f.formatAsCSV(result, output)
	case FormatYAML:
		return f.formatAsYAML(result, output)
	case FormatMarkdown:
		return f.formatAsMarkdown(result, output)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidOutputFormat, f.format)
	}
}

// summary is the footer line shared by the text formats.
func summary(result *Result) string {
	if result.Columns == nil && result.Count == 0 && result.RowsAffected > 0 {
		return fmt.Sprintf("%d rows affected (%v)", result.RowsAffected, result.Duration)
	}

	line := fmt.Sprintf("%d rows (%v)", result.Count, result.Duration)
	if result.Page != nil {
		line += fmt.Sprintf(", %d total rows, %d pages of %d", result.Page.TotalRows, result.Page.PageCount, result.Page.PageSize)
	}

	return line
}

func (f *Formatter) formatAsTable(result *Result, output io.Writer) error {
	if len(result.Rows) == 0 {
		_, err := fmt.Fprintln(output, "No results\n"+summary(result))
		return err
	}

	w := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(result.Columns, "\t"))

	rule := make([]string, len(result.Columns))
	for i, col := range result.Columns {
		rule[i] = strings.Repeat("-", max(len(col), 3))
	}

	fmt.Fprintln(w, strings.Join(rule, "\t"))

	for _, row := range result.Rows {
		fmt.Fprintln(w, strings.Join(formatRow(row), "\t"))
	}

	if err := w.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintln(output, summary(result))

	return err
}

func (f *Formatter) formatAsMarkdown(result *Result, output io.Writer) error {
	if len(result.Rows) == 0 {
		_, err := fmt.Fprintln(output, "No results")
		return err
	}

	var b strings.Builder

	b.WriteString("| " + strings.Join(result.Columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(result.Columns)) + "\n")

	for _, row := range result.Rows {
		cells := formatRow(row)
		for i, cell := range cells {
			cells[i] = strings.ReplaceAll(cell, "|", `\|`)
		}

		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	b.WriteString("\n<!-- " + summary(result) + " -->\n")

	_, err := io.WriteString(output, b.String())

	return err
}

// document is the structured form used by JSON and YAML output.
func document(result *Result) map[string]any {
	doc := map[string]any{
		"data":     rowsToMaps(result.Columns, result.Rows),
		"count":    result.Count,
		"duration": result.Duration.String(),
	}

	if result.RowsAffected > 0 {
		doc["rows_affected"] = result.RowsAffected
	}

	if result.Page != nil {
		doc["page"] = map[string]any{
			"total_rows": result.Page.TotalRows,
			"page_size":  result.Page.PageSize,
			"page_count": result.Page.PageCount,
		}
	}

	return doc
}

func (f *Formatter) formatAsJSON(result *Result, output io.Writer) error {
	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")

	return encoder.Encode(document(result))
}

func (f *Formatter) formatAsCSV(result *Result, output io.Writer) error {
	writer := csv.NewWriter(output)

	if err := writer.Write(result.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range result.Rows {
		if err := writer.Write(formatRow(row)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()

	return writer.Error()
}

func (f *Formatter) formatAsYAML(result *Result, output io.Writer) error {
	data, err := yaml.Marshal(document(result))
	if err != nil {
		return fmt.Errorf("failed to marshal results to YAML: %w", err)
	}

	_, err = output.Write(data)

	return err
}

// rowsToMaps converts rows to maps
func rowsToMaps(columns []string, rows [][]any) []map[string]any {
	result := make([]map[string]any, 0, len(rows))

	for _, row := range rows {
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(row) {
				rowMap[col] = row[i]
			}
		}

		result = append(result, rowMap)
	}

	return result
}

func formatRow(row []any) []string {
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = formatValue(v)
	}

	return cells
}

// formatValue formats a value as a string
func formatValue(val any) string {
	switch v := val.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case []byte:
		return string(v)
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// IsValidOutputFormat checks if the output format is valid
func IsValidOutputFormat(format string) bool {
	switch OutputFormat(strings.ToLower(format)) {
	case FormatTable, FormatJSON, FormatCSV, FormatYAML, FormatMarkdown:
		return true
	default:
		return false
	}
}
