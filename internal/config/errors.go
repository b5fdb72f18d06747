// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import "errors"

var (
	// ErrInvalid classifies any configuration failure that must abort startup.
	ErrInvalid = errors.New("invalid configuration")

	// ErrUnknownField classifies strict YAML parse failures caused by unknown keys.
	// Use errors.Is(err, ErrUnknownField) instead of string matching.
	ErrUnknownField = errors.New("unknown config field")
)
