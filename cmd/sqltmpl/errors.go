package main

import "errors"

// Sentinel errors for command operations
var (
	ErrTemplateNotFound      = errors.New("template file not found")
	ErrInvalidParams         = errors.New("invalid parameters")
	ErrNoDatabasesConfigured = errors.New("no databases configured")
	ErrEnvironmentNotFound   = errors.New("environment not found")
	ErrMissingDBOrEnv        = errors.New("missing database or environment")
	ErrQueryExecution        = errors.New("query execution failed")
	ErrOutputFileCreation    = errors.New("failed to create output file")
)
