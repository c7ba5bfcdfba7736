// Package query ties template evaluation, binding and rendering together and
// runs the rendered queries.
package query

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shibukawa/sqltmpl"
	"github.com/shibukawa/sqltmpl/binding"
	"github.com/shibukawa/sqltmpl/evaluator"
	"github.com/shibukawa/sqltmpl/render"
)

// ErrUnsupportedTemplate is returned by Load for files that are not SQL templates.
var ErrUnsupportedTemplate = errors.New("unsupported template file")

// Template is a compiled SQL template. It is immutable and safe for concurrent use.
type Template struct {
	name    string
	source  string
	program *evaluator.Program
}

// Compile parses and compiles a template source.
func Compile(source string) (*Template, error) {
	return compileNamed("", source)
}

func compileNamed(name, source string) (*Template, error) {
	program, err := evaluator.Compile(source)
	if err != nil {
		if name != "" {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		return nil, err
	}

	return &Template{name: name, source: source, program: program}, nil
}

// Load reads and compiles a .sql template file.
func Load(path string) (*Template, error) {
	data, err := readTemplate(path)
	if err != nil {
		return nil, err
	}

	return compileNamed(filepath.Base(path), data)
}

func readTemplate(path string) (string, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".sql" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedTemplate, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read template file: %w", err)
	}

	return string(data), nil
}

// Name returns the file name for loaded templates.
func (t *Template) Name() string {
	return t.name
}

// Source returns the template text.
func (t *Template) Source() string {
	return t.source
}

// Program returns the compiled instructions.
func (t *Template) Program() *evaluator.Program {
	return t.program
}

type renderOptions struct {
	table      *binding.Table
	persistent bool
	encodable  []binding.Encodability
}

// RenderOption configures Template.Render.
type RenderOption func(*renderOptions)

// WithTable reads the record through an explicit binding table.
func WithTable(table *binding.Table) RenderOption {
	return func(o *renderOptions) {
		o.table = table
	}
}

// WithPersistent marks the rendered query for prepared statement reuse.
// Queries are persistent by default.
func WithPersistent(persistent bool) RenderOption {
	return func(o *renderOptions) {
		o.persistent = persistent
	}
}

// WithEncodable accepts additional value types as bind arguments.
func WithEncodable(checks ...binding.Encodability) RenderOption {
	return func(o *renderOptions) {
		o.encodable = append(o.encodable, checks...)
	}
}

// Render evaluates the template against record and renders it for dialect.
// record may be a struct (or pointer to one), a map[string]any or nil.
func (t *Template) Render(dialect sqltmpl.Dialect, record any, opts ...RenderOption) (*render.Query, error) {
	o := renderOptions{persistent: true}
	for _, opt := range opts {
		opt(&o)
	}

	renderer, err := render.New(dialect, render.WithPersistent(o.persistent))
	if err != nil {
		return nil, err
	}

	table := o.table
	if table == nil {
		table, err = tableFor(record)
		if err != nil {
			return nil, err
		}
	}

	params, err := table.Params(record)
	if err != nil {
		return nil, err
	}

	stream, locals, err := t.program.Evaluate(params)
	if err != nil {
		return nil, err
	}

	return renderer.Render(stream, binding.NewSource(table, record, locals, binding.WithEncodable(o.encodable...)))
}

// tableFor derives the binding table of a record.
func tableFor(record any) (*binding.Table, error) {
	switch r := record.(type) {
	case nil:
		return binding.NewTable(nil), nil
	case map[string]any:
		return binding.TableFromMap(r), nil
	}

	return binding.TableOf(record)
}
