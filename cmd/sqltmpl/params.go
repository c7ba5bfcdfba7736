package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// loadParameters loads parameters from a JSON/YAML file, then applies
// key=value pairs on top of them.
func loadParameters(ctx *Context, paramsFile string, pairs []string) (map[string]any, error) {
	params := make(map[string]any)

	if paramsFile != "" {
		if !fileExists(paramsFile) {
			return nil, fmt.Errorf("%w: parameters file not found: %s", ErrInvalidParams, paramsFile)
		}

		data, err := os.ReadFile(paramsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read parameters file: %w", err)
		}

		switch ext := strings.ToLower(filepath.Ext(paramsFile)); ext {
		case ".json":
			if err := json.Unmarshal(data, &params); err != nil {
				return nil, fmt.Errorf("failed to parse JSON parameters: %w", err)
			}
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, &params); err != nil {
				return nil, fmt.Errorf("failed to parse YAML parameters: %w", err)
			}
		default:
			return nil, fmt.Errorf("%w: unsupported parameters file format: %s", ErrInvalidParams, ext)
		}

		if ctx.Verbose {
			color.Blue("Loaded parameters from %s", paramsFile)
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: parameter must be in key=value format: %s", ErrInvalidParams, pair)
		}

		v, err := parseParamValue(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidParams, key, err)
		}

		params[key] = v
	}

	return params, nil
}

// parseParamValue converts a command line value. "d:" and "u:" force a
// decimal or UUID; otherwise JSON, booleans and numbers are recognised
// before falling back to a string.
func parseParamValue(value string) (any, error) {
	switch {
	case strings.HasPrefix(value, "d:"):
		return decimal.NewFromString(value[2:])
	case strings.HasPrefix(value, "u:"):
		return uuid.Parse(value[2:])
	case strings.HasPrefix(value, "s:"):
		return value[2:], nil
	}

	if (strings.HasPrefix(value, "{") && strings.HasSuffix(value, "}")) ||
		(strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]")) {
		var jsonValue any
		if err := json.Unmarshal([]byte(value), &jsonValue); err == nil {
			return jsonValue, nil
		}
	}

	switch value {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}

	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i, nil
	}

	if strings.Contains(value, ".") {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f, nil
		}
	}

	return value, nil
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
