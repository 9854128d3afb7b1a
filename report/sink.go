package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/klejdi94/xsim/evaluator"
	"github.com/klejdi94/xsim/storage"
	"github.com/sirupsen/logrus"
)

// Output file names.
const (
	PairwiseFile          = "xsim_matrix.csv"
	AugmentedPairwiseFile = "xsimpp_matrix.csv"
	NWayFile              = "xsim_nway_matrix.csv"
	DistanceFile          = "cosine_distance_matrix.csv"
)

// BreakdownFile is the breakdown table name of an augmented target.
func BreakdownFile(target string) string {
	return fmt.Sprintf("xsimpp_errortype_%s_matrix.csv", target)
}

// Format selects the console output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Sink prints tables to a writer and, when a blob store is set, persists
// each one as CSV under its output file name.
type Sink struct {
	Out    io.Writer
	Format Format
	Store  storage.BlobStore
	Prefix string
	Logger logrus.FieldLogger
}

// Pairwise emits the corpus table and one breakdown table per augmented
// target with an available breakdown.
func (s *Sink) Pairwise(ctx context.Context, corpus string, res *evaluator.PairwiseResult) error {
	name := PairwiseFile
	if len(res.AugmentedTargets) > 0 {
		name = AugmentedPairwiseFile
	}
	if err := s.emit(ctx, name, PairwiseTable(corpus, res)); err != nil {
		return err
	}
	for _, tgt := range res.AugmentedTargets {
		bt, ok := res.BreakdownTable(tgt)
		if !ok {
			if s.Logger != nil {
				s.Logger.WithField("target", tgt).WithError(res.BreakdownErrors[tgt]).Warn("no perturbation breakdown")
			}
			continue
		}
		if err := s.emit(ctx, BreakdownFile(tgt), BreakdownTable(bt)); err != nil {
			return err
		}
	}
	return nil
}

// NWay emits the n-way matrix.
func (s *Sink) NWay(ctx context.Context, m *evaluator.ErrorMatrix) error {
	return s.emit(ctx, NWayFile, NWayTable(m))
}

// Distances emits the cosine distance table.
func (s *Sink) Distances(ctx context.Context, corpus string, d *evaluator.DistanceTable) error {
	return s.emit(ctx, DistanceFile, DistanceTable(corpus, d))
}

func (s *Sink) emit(ctx context.Context, name string, t Table) error {
	if s.Out != nil {
		if err := s.print(t); err != nil {
			return err
		}
	}
	if s.Store == nil {
		return nil
	}
	body, err := CSV(t)
	if err != nil {
		return err
	}
	key := name
	if s.Prefix != "" {
		key = path.Join(s.Prefix, name)
	}
	if err := s.Store.Put(ctx, key, body); err != nil {
		return fmt.Errorf("report: write %s: %w", key, err)
	}
	if s.Logger != nil {
		s.Logger.WithField("key", key).Debug("table written")
	}
	return nil
}

func (s *Sink) print(t Table) error {
	switch s.Format {
	case FormatJSON:
		return WriteJSON(s.Out, t)
	case FormatCSV:
		return WriteCSV(s.Out, t)
	}
	var buf bytes.Buffer
	if err := WriteText(&buf, t); err != nil {
		return err
	}
	buf.WriteString("\n")
	_, err := s.Out.Write(buf.Bytes())
	return err
}
