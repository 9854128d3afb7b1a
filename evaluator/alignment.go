package evaluator

import "github.com/klejdi94/xsim/core"

// Alignment decides whether the target row retrieved for source row i is the
// correct translation.
type Alignment interface {
	Mode() core.AlignmentMode
	Correct(i, retrieved int) bool
}

// IndexAlignment treats row i of the target as the only correct match for row i
// of the source.
type IndexAlignment struct{}

func (IndexAlignment) Mode() core.AlignmentMode { return core.AlignIndex }

func (IndexAlignment) Correct(i, retrieved int) bool { return i == retrieved }

// TextAlignment accepts any retrieved row whose target text is byte-identical
// to the target text at row i, so duplicated sentences are not penalised.
type TextAlignment struct {
	Lines []string
}

func (TextAlignment) Mode() core.AlignmentMode { return core.AlignText }

func (a TextAlignment) Correct(i, retrieved int) bool {
	if i == retrieved {
		return true
	}
	if i < 0 || retrieved < 0 || i >= len(a.Lines) || retrieved >= len(a.Lines) {
		return false
	}
	return a.Lines[i] == a.Lines[retrieved]
}

// Duplicates returns the number of lines that repeat an earlier line.
func (a TextAlignment) Duplicates() int {
	seen := make(map[string]struct{}, len(a.Lines))
	dups := 0
	for _, l := range a.Lines {
		if _, ok := seen[l]; ok {
			dups++
			continue
		}
		seen[l] = struct{}{}
	}
	return dups
}

// AlignmentFor builds the alignment for mode. Text alignment needs the target
// lines; without them it falls back to index alignment.
func AlignmentFor(mode core.AlignmentMode, targetLines []string) Alignment {
	if mode == core.AlignText && targetLines != nil {
		return TextAlignment{Lines: targetLines}
	}
	return IndexAlignment{}
}
