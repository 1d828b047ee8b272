package api

import (
	"encoding/csv"
	"io"
	"regexp"
	"strconv"

	"github.com/gast-project/gast-orchestrator/internal/amr"
	"github.com/gast-project/gast-orchestrator/pkg/apierror"
)

// segmentIDPattern recovers the original FASTA header from a
// Sequence_ID produced by amr.Segment ("<header>_segment_<idx>_<start>_<end>"),
// the inverse of the formatting in internal/amr/segment.go.
var segmentIDPattern = regexp.MustCompile(`^(.*)_segment_\d+_\d+_\d+$`)

func segmentHeader(sequenceID string) string {
	if m := segmentIDPattern.FindStringSubmatch(sequenceID); m != nil {
		return m[1]
	}
	return sequenceID
}

// parsePredictionTSV reads a per-segment prediction TSV in the exact
// format amr.SegmentWriter emits (spec §6.2
// amr_predictions_<job_id>.tsv) and reconstructs the PerWindowResult
// list amr.Aggregate needs, so /aggregate and /sequence can re-run the
// same aggregation math over previously produced output (spec §4.5,
// §6.1 "aggregates prior outputs").
func parsePredictionTSV(r io.Reader) ([]amr.PerWindowResult, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil {
		return nil, apierror.InvalidInput("reading TSV header: %v", err)
	}

	var out []amr.PerWindowResult
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apierror.InvalidInput("reading TSV row: %v", err)
		}
		if len(rec) < 5 {
			continue
		}
		start, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, apierror.InvalidInput("invalid Start column %q: %v", rec[1], err)
		}
		end, err := strconv.Atoi(rec[2])
		if err != nil {
			return nil, apierror.InvalidInput("invalid End column %q: %v", rec[2], err)
		}
		resistant, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, apierror.InvalidInput("invalid Resistant column %q: %v", rec[3], err)
		}
		susceptible, err := strconv.ParseFloat(rec[4], 64)
		if err != nil {
			return nil, apierror.InvalidInput("invalid Susceptible column %q: %v", rec[4], err)
		}

		out = append(out, amr.PerWindowResult{
			Window: amr.Window{ID: rec[0], Header: segmentHeader(rec[0]), Start: start, End: end},
			Prediction: amr.Prediction{
				WindowID: rec[0], ResistantProb: resistant, SusceptibleProb: susceptible,
			},
		})
	}
	return out, nil
}
