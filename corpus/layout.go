// Package corpus resolves the on-disk layout of an evaluation corpus and
// reads its sentence files and perturbation annotations.
package corpus

import (
	"fmt"
	"path/filepath"
)

// Layout locates the files of one corpus split:
//
//	<base>/<corpus>/<split>/<lang>.<split>
//	<base>/<corpus>/<split>_augmented/<lang>_augmented.<split>
//	<base>/<corpus>/<split>_augmented/<lang>_errtype.<split>.json
//
// Embeddings live in EmbedDir under the text file's base name.
type Layout struct {
	BaseDir  string
	Corpus   string
	Split    string
	EmbedDir string
}

// Validate reports missing fields.
func (l Layout) Validate() error {
	switch {
	case l.BaseDir == "":
		return fmt.Errorf("corpus: base dir is required")
	case l.Corpus == "":
		return fmt.Errorf("corpus: corpus name is required")
	case l.Split == "":
		return fmt.Errorf("corpus: split is required")
	}
	return nil
}

func (l Layout) splitDir() string {
	return filepath.Join(l.BaseDir, l.Corpus, l.Split)
}

func (l Layout) augmentedDir() string {
	return filepath.Join(l.BaseDir, l.Corpus, l.Split+"_augmented")
}

// TextPath is the sentence file of lang.
func (l Layout) TextPath(lang string) string {
	return filepath.Join(l.splitDir(), l.EmbeddingKey(lang))
}

// AugmentedTextPath is the perturbed sentence file of lang.
func (l Layout) AugmentedTextPath(lang string) string {
	return filepath.Join(l.augmentedDir(), fmt.Sprintf("%s_augmented.%s", lang, l.Split))
}

// AnnotationPath is the perturbation label file of lang.
func (l Layout) AnnotationPath(lang string) string {
	return filepath.Join(l.augmentedDir(), fmt.Sprintf("%s_errtype.%s.json", lang, l.Split))
}

// EmbeddingKey is the embed-dir key of lang's embeddings.
func (l Layout) EmbeddingKey(lang string) string {
	return fmt.Sprintf("%s.%s", lang, l.Split)
}

// AugmentedEmbeddingKey is the embed-dir key of lang's combined original and
// augmented embeddings.
func (l Layout) AugmentedEmbeddingKey(lang string) string {
	return fmt.Sprintf("%s_augmented.%s", lang, l.Split)
}

// TargetEmbeddingKey is the embed-dir key of lang's embeddings when targets
// are encoded by their own model, keeping them apart from source files.
func (l Layout) TargetEmbeddingKey(lang string, augmented bool) string {
	if augmented {
		return "tgt_" + l.AugmentedEmbeddingKey(lang)
	}
	return "tgt_" + l.EmbeddingKey(lang)
}

// CombinedTextPath is where the concatenated original and augmented text of
// lang is written before encoding.
func (l Layout) CombinedTextPath(lang string) string {
	return filepath.Join(l.EmbedDir, fmt.Sprintf("combined_%s.%s", lang, l.Split))
}
