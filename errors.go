package sqltmpl

import "errors"

// Common errors used throughout the sqltmpl packages
var (
	// ErrUnknownField is returned when a field bind point names a field missing from the binding table.
	// Binding errors
	ErrUnknownField = errors.New("unknown field")
	// ErrUnboundLocal is returned when a template-local bind point was not defined on the taken template path.
	ErrUnboundLocal = errors.New("unbound template local")
	// ErrNotEncodable indicates a bound value cannot be encoded for the backend.
	ErrNotEncodable = errors.New("value is not encodable")
	// ErrEmptyListExpansion indicates a list bind point resolved to zero elements.
	ErrEmptyListExpansion = errors.New("list bind point resolved to an empty sequence")

	// ErrInvalidPageNumber indicates a page number below 1.
	// Pagination errors
	ErrInvalidPageNumber = errors.New("page number must be 1 or greater")
	// ErrInvalidPageSize indicates a page size below 1.
	ErrInvalidPageSize = errors.New("page size must be 1 or greater")

	// ErrUnsupportedDialect indicates the dialect is unknown, unresolved, or lacks a required feature.
	ErrUnsupportedDialect = errors.New("unsupported dialect")

	// ErrTemplateSyntax indicates a malformed template directive.
	// Template errors
	ErrTemplateSyntax = errors.New("template syntax error")
	// ErrExpression indicates a template expression failed to compile or evaluate.
	ErrExpression = errors.New("template expression error")
)
