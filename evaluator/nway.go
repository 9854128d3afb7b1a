package evaluator

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ErrorMatrix is the square n-way result. Cells[i][j] is the error rate of
// source Langs[i] against target Langs[j]; the diagonal is 0 and never
// computed.
type ErrorMatrix struct {
	Langs    []string
	Cells    [][]float64
	Examples [][]int
	Skipped  [][]bool
	// Average[j] is the mean of column j over its off-diagonal cells that
	// were not skipped.
	Average []float64
}

// GlobalAverage is the mean of the column averages.
func (m *ErrorMatrix) GlobalAverage() float64 {
	if len(m.Average) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m.Average {
		sum += v
	}
	return sum / float64(len(m.Average))
}

func newErrorMatrix(langs []Language) *ErrorMatrix {
	n := len(langs)
	m := &ErrorMatrix{
		Langs:    make([]string, n),
		Cells:    make([][]float64, n),
		Examples: make([][]int, n),
		Skipped:  make([][]bool, n),
		Average:  make([]float64, n),
	}
	for i, l := range langs {
		m.Langs[i] = l.Name
		m.Cells[i] = make([]float64, n)
		m.Examples[i] = make([]int, n)
		m.Skipped[i] = make([]bool, n)
	}
	return m
}

func (m *ErrorMatrix) average() {
	for j := range m.Langs {
		var sum float64
		var count int
		for i := range m.Langs {
			if i == j || m.Skipped[i][j] {
				continue
			}
			sum += m.Cells[i][j]
			count++
		}
		if count > 0 {
			m.Average[j] = sum / float64(count)
		}
	}
}

// NWay evaluates every ordered pair among langs into a square matrix. On a
// fatal error the partially filled matrix is returned with the error.
func (e *Evaluator) NWay(ctx context.Context, langs []Language) (*ErrorMatrix, error) {
	m := newErrorMatrix(langs)
	err := e.fillMatrix(ctx, m, langs)
	m.average()
	if err != nil {
		return m, err
	}
	e.logger.WithFields(logrus.Fields{
		"langs":   len(langs),
		"average": m.GlobalAverage(),
	}).Info("n-way evaluation finished")
	return m, nil
}

func (e *Evaluator) fillMatrix(ctx context.Context, m *ErrorMatrix, langs []Language) error {
	for i, src := range langs {
		for j, tgt := range langs {
			if i == j || src.Name == tgt.Name {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := e.EvaluatePair(ctx, src, tgt)
			if err != nil {
				return err
			}
			m.Examples[i][j] = res.Report.Examples
			if res.Skipped {
				m.Skipped[i][j] = true
				continue
			}
			m.Cells[i][j] = res.Report.Rate()
		}
	}
	return nil
}
