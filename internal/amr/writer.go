package amr

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
)

// SegmentWriter appends per-segment prediction rows to a TSV file,
// flushing after every batch so a crash mid-job leaves a valid,
// truncated file rather than a corrupt one (spec §4.3 step 4's
// "write-temp-then-rename per batch, OR open-once-append-with-flush"
// -- this picks the latter, grounded on the simplicity of the
// teacher's own log writer which holds one open *os.File for its
// lifetime rather than re-opening per write).
type SegmentWriter struct {
	f *os.File
	w *csv.Writer
}

func NewSegmentWriter(path string) (*SegmentWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, apierror.Storage("creating segment output file", err)
	}
	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write([]string{"Sequence_ID", "Start", "End", "Resistant", "Susceptible"}); err != nil {
		f.Close()
		return nil, apierror.Storage("writing segment output header", err)
	}
	w.Flush()
	return &SegmentWriter{f: f, w: w}, nil
}

// WriteBatch appends one row per result and flushes immediately.
func (s *SegmentWriter) WriteBatch(results []PerWindowResult) error {
	for _, r := range results {
		err := s.w.Write([]string{
			r.Window.ID,
			fmt.Sprintf("%d", r.Window.Start),
			fmt.Sprintf("%d", r.Window.End),
			fmt.Sprintf("%.6f", r.Prediction.ResistantProb),
			fmt.Sprintf("%.6f", r.Prediction.SusceptibleProb),
		})
		if err != nil {
			return apierror.Storage("writing segment result row", err)
		}
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *SegmentWriter) Close() error {
	s.w.Flush()
	return s.f.Close()
}

// WriteAggregated writes the one-row-per-header aggregation output
// (spec §4.3 step 5).
func WriteAggregated(path string, rows []AggregatedRow) error {
	f, err := os.Create(path)
	if err != nil {
		return apierror.Storage("creating aggregated output file", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	header := []string{
		"Sequence_ID", "Segment_Count", "Min_Start", "Max_End",
		"Any_Resistance", "Majority_Vote", "Average_Probability",
		"Avg_Resistance_Prob", "Avg_Susceptible_Prob",
	}
	if err := w.Write(header); err != nil {
		return apierror.Storage("writing aggregated output header", err)
	}
	for _, r := range rows {
		err := w.Write([]string{
			r.Header,
			fmt.Sprintf("%d", r.SegmentCount),
			fmt.Sprintf("%d", r.MinStart),
			fmt.Sprintf("%d", r.MaxEnd),
			fmt.Sprintf("%t", r.AnyResistance),
			fmt.Sprintf("%t", r.MajorityVote),
			fmt.Sprintf("%t", r.AverageProbability),
			fmt.Sprintf("%.6f", r.AvgResistanceProb),
			fmt.Sprintf("%.6f", r.AvgSusceptibleProb),
		})
		if err != nil {
			return apierror.Storage("writing aggregated result row", err)
		}
	}
	w.Flush()
	return w.Error()
}
