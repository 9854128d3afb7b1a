package core

import (
	"fmt"
	"sort"
	"strings"
)

// Precision is the on-disk element width of embedding files.
type Precision string

const (
	PrecisionFP16 Precision = "fp16"
	PrecisionFP32 Precision = "fp32"
)

// ElementSize returns the number of bytes per stored vector component.
func (p Precision) ElementSize() int {
	if p == PrecisionFP16 {
		return 2
	}
	return 4
}

// ParsePrecision parses "fp16" or "fp32" (case-insensitive).
func ParsePrecision(s string) (Precision, error) {
	switch Precision(strings.ToLower(strings.TrimSpace(s))) {
	case PrecisionFP16:
		return PrecisionFP16, nil
	case PrecisionFP32, "":
		return PrecisionFP32, nil
	}
	return "", &ValidationError{Field: "precision", Value: s, Message: "expected fp16 or fp32"}
}

// MarginMode selects how raw cosine similarity is normalised before ranking.
type MarginMode string

const (
	MarginAbsolute MarginMode = "absolute"
	MarginRatio    MarginMode = "ratio"
	MarginDistance MarginMode = "distance"
)

// ParseMarginMode parses a margin name. The empty string means absolute.
func ParseMarginMode(s string) (MarginMode, error) {
	switch MarginMode(strings.ToLower(strings.TrimSpace(s))) {
	case MarginAbsolute, "":
		return MarginAbsolute, nil
	case MarginRatio:
		return MarginRatio, nil
	case MarginDistance:
		return MarginDistance, nil
	}
	return "", &ValidationError{Field: "margin", Value: s, Message: "expected absolute, ratio or distance"}
}

// AlignmentMode selects how a retrieved row is judged correct.
type AlignmentMode string

const (
	AlignIndex AlignmentMode = "index"
	AlignText  AlignmentMode = "text"
)

// ParseAlignmentMode parses "index" or "text".
func ParseAlignmentMode(s string) (AlignmentMode, error) {
	switch AlignmentMode(strings.ToLower(strings.TrimSpace(s))) {
	case AlignIndex:
		return AlignIndex, nil
	case AlignText, "":
		return AlignText, nil
	}
	return "", &ValidationError{Field: "alignment", Value: s, Message: "expected index or text"}
}

// Defaults used when a field is left zero.
const (
	DefaultK         = 4
	DefaultMinSents  = 100
	DefaultDimension = 1024
)

// Options is the run-wide engine configuration. Immutable for a run.
type Options struct {
	Margin    MarginMode
	K         int
	MinSents  int
	Precision Precision
	Alignment AlignmentMode
	Dimension int
}

// DefaultOptions returns the options the command line tool starts from.
func DefaultOptions() Options {
	return Options{
		Margin:    MarginAbsolute,
		K:         DefaultK,
		MinSents:  DefaultMinSents,
		Precision: PrecisionFP32,
		Alignment: AlignText,
		Dimension: DefaultDimension,
	}
}

// Validate checks every field and returns the first violation.
func (o Options) Validate() error {
	if _, err := ParseMarginMode(string(o.Margin)); err != nil {
		return err
	}
	if o.K <= 0 {
		return &ValidationError{Field: "k", Value: o.K, Message: "must be > 0"}
	}
	if o.MinSents < 0 {
		return &ValidationError{Field: "min_sents", Value: o.MinSents, Message: "must be >= 0"}
	}
	if _, err := ParsePrecision(string(o.Precision)); err != nil {
		return err
	}
	if _, err := ParseAlignmentMode(string(o.Alignment)); err != nil {
		return err
	}
	if o.Dimension <= 0 {
		return &ValidationError{Field: "dimension", Value: o.Dimension, Message: "must be > 0"}
	}
	return nil
}

// Pair is an ordered (source, target) language pair.
type Pair struct {
	Source string
	Target string
}

func (p Pair) String() string {
	return fmt.Sprintf("%s-%s", p.Source, p.Target)
}

// Annotation maps a target-row index to the perturbation label applied to
// that row. Rows without a label are absent.
type Annotation map[int]string

// Label returns the perturbation label for row i.
func (a Annotation) Label(i int) (string, bool) {
	if a == nil {
		return "", false
	}
	l, ok := a[i]
	return l, ok
}

// Labels returns the distinct labels in sorted order.
func (a Annotation) Labels() []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range a {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}
