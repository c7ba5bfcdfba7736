// Package render turns a segment stream into SQL text and an ordered
// argument list for one dialect.
package render

import (
	"fmt"
	"strings"

	"github.com/shibukawa/sqltmpl"
	"github.com/shibukawa/sqltmpl/binding"
	"github.com/shibukawa/sqltmpl/segment"
)

// Renderer renders streams for one dialect. It holds no mutable state and is
// safe for concurrent use.
type Renderer struct {
	dialect    sqltmpl.Dialect
	desc       sqltmpl.Descriptor
	persistent bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithPersistent sets the persistent flag of rendered queries.
func WithPersistent(persistent bool) Option {
	return func(r *Renderer) {
		r.persistent = persistent
	}
}

// New creates a Renderer. DialectAny must be resolved before calling New.
func New(dialect sqltmpl.Dialect, opts ...Option) (*Renderer, error) {
	desc, err := dialect.Descriptor()
	if err != nil {
		return nil, err
	}

	r := &Renderer{dialect: dialect, desc: desc, persistent: true}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Dialect returns the dialect the renderer emits.
func (r *Renderer) Dialect() sqltmpl.Dialect {
	return r.dialect
}

// Render walks the stream in order. On error no partial query is returned.
func (r *Renderer) Render(stream segment.Stream, src *binding.Source) (*Query, error) {
	var (
		sql  strings.Builder
		args Args
	)

	for _, seg := range stream {
		switch seg.Kind {
		case segment.KindLiteral:
			sql.WriteString(seg.Text)
		case segment.KindBind:
			value, err := src.Resolve(seg.Bind, r.dialect)
			if err != nil {
				return nil, err
			}

			if !value.IsList {
				r.desc.AppendPlaceholder(&sql, len(args))
				args = append(args, value.Scalar)

				continue
			}

			if len(value.List) == 0 {
				return nil, fmt.Errorf("%w: %s", sqltmpl.ErrEmptyListExpansion, seg.Bind.Name)
			}

			for i, item := range value.List {
				if i > 0 {
					sql.WriteString(", ")
				}

				r.desc.AppendPlaceholder(&sql, len(args))
				args = append(args, item)
			}
		default:
			return nil, fmt.Errorf("%w: segment kind %d", sqltmpl.ErrTemplateSyntax, seg.Kind)
		}
	}

	return &Query{sql: sql.String(), args: args, persistent: r.persistent}, nil
}

// Render is a shorthand for New followed by Renderer.Render.
func Render(stream segment.Stream, dialect sqltmpl.Dialect, src *binding.Source) (*Query, error) {
	r, err := New(dialect)
	if err != nil {
		return nil, err
	}

	return r.Render(stream, src)
}
