package corpus

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klejdi94/xsim/core"
)

// Unperturbed is the label of augmented rows that carry no perturbation.
const Unperturbed = "na"

type errType struct {
	ErrType string `json:"errtype"`
}

// LoadAnnotation parses a perturbation label file for the augmented sentences
// in augmented. Keys are either decimal row indices into augmented or the
// trimmed sentence itself; values are a label or {"errtype": label}. Labels
// are keyed by offset+row, where offset is the number of original rows that
// precede the augmented ones in the combined target. Rows labelled "na" are
// left out. Every augmented row must be covered.
func LoadAnnotation(r io.Reader, augmented []string, offset int) (core.Annotation, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("corpus: decode annotation: %v: %w", err, core.ErrMissingAnnotation)
	}
	labels := make(map[string]string, len(raw))
	for k, v := range raw {
		l, err := parseLabel(v)
		if err != nil {
			return nil, fmt.Errorf("corpus: annotation %q: %v: %w", k, err, core.ErrMissingAnnotation)
		}
		labels[k] = l
	}

	ann := make(core.Annotation)
	for i, line := range augmented {
		l, ok := labels[strconv.Itoa(i)]
		if !ok {
			l, ok = labels[strings.TrimSpace(line)]
		}
		if !ok {
			return nil, fmt.Errorf("corpus: augmented row %d has no label (%d rows, %d entries): %w",
				i, len(augmented), len(raw), core.ErrMissingAnnotation)
		}
		if l != Unperturbed {
			ann[offset+i] = l
		}
	}
	return ann, nil
}

// LoadAnnotationFile reads the annotation at path.
func LoadAnnotationFile(path string, augmented []string, offset int) (core.Annotation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: %v: %w", err, core.ErrMissingAnnotation)
	}
	defer f.Close()
	ann, err := LoadAnnotation(f, augmented, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ann, nil
}

func parseLabel(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var e errType
	if err := json.Unmarshal(v, &e); err != nil {
		return "", err
	}
	if e.ErrType == "" {
		return "", fmt.Errorf("missing errtype")
	}
	return e.ErrType, nil
}
