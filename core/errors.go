// Package core provides the shared value types, run options and error taxonomy
// for the xsim evaluation engine.
package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for evaluation runs.
var (
	ErrMalformedEmbeddingFile = errors.New("malformed embedding file")
	ErrDimensionMismatch      = errors.New("embedding dimension mismatch")
	ErrRowCountMismatch       = errors.New("row count mismatch")
	ErrInsufficientExamples   = errors.New("insufficient examples")
	ErrMissingAnnotation      = errors.New("missing augmented annotation")
	ErrEncodingFailure        = errors.New("encoding failed")
	ErrInvalidConfig          = errors.New("invalid configuration")
)

// ValidationError carries field-level validation context.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Unwrap lets errors.Is(err, ErrInvalidConfig) match validation failures.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// PairError identifies the language pair and/or file that caused a fatal error.
type PairError struct {
	Source string
	Target string
	Lang   string
	File   string
	Err    error
}

func (e *PairError) Error() string {
	var parts []string
	if e.Source != "" || e.Target != "" {
		parts = append(parts, "pair "+e.Source+"-"+e.Target)
	}
	if e.Lang != "" {
		parts = append(parts, "lang "+e.Lang)
	}
	if e.File != "" {
		parts = append(parts, "file "+e.File)
	}
	if len(parts) == 0 {
		return fmt.Sprint(e.Err)
	}
	return strings.Join(parts, ", ") + ": " + fmt.Sprint(e.Err)
}

func (e *PairError) Unwrap() error {
	return e.Err
}

// WithPair returns err annotated with the pair. An existing PairError keeps its
// file and language and gains the pair if it had none.
func WithPair(err error, pair Pair) error {
	if err == nil {
		return nil
	}
	var pe *PairError
	if errors.As(err, &pe) {
		cp := *pe
		if cp.Source == "" && cp.Target == "" {
			cp.Source, cp.Target = pair.Source, pair.Target
		}
		return &cp
	}
	return &PairError{Source: pair.Source, Target: pair.Target, Err: err}
}
