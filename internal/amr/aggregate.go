package amr

// PerWindowResult pairs a window with its prediction, grouped per
// original header for aggregation (spec §4.3 step 5).
type PerWindowResult struct {
	Window     Window
	Prediction Prediction
}

// AggregatedRow is one row of the `*_aggregated.tsv` output: one per
// original FASTA header.
type AggregatedRow struct {
	Header               string
	SegmentCount          int
	MinStart              int
	MaxEnd                int
	AnyResistance         bool
	MajorityVote          bool
	AverageProbability    bool
	AvgResistanceProb     float64
	AvgSusceptibleProb    float64
}

// Aggregate groups results by header and computes the three
// independent classifications from spec §4.3 step 5:
//   - any-resistance: Resistant iff any window probability > threshold
//   - majority-vote: Resistant iff more than half of windows exceed threshold
//   - average-probability: Resistant iff the mean of window probabilities exceeds threshold
func Aggregate(results []PerWindowResult, threshold float64) []AggregatedRow {
	order := make([]string, 0)
	byHeader := make(map[string][]PerWindowResult)
	for _, r := range results {
		if _, ok := byHeader[r.Window.Header]; !ok {
			order = append(order, r.Window.Header)
		}
		byHeader[r.Window.Header] = append(byHeader[r.Window.Header], r)
	}

	rows := make([]AggregatedRow, 0, len(order))
	for _, header := range order {
		group := byHeader[header]
		row := AggregatedRow{Header: header, SegmentCount: len(group)}

		row.MinStart = group[0].Window.Start
		row.MaxEnd = group[0].Window.End

		var sumResistant, sumSusceptible float64
		aboveCount := 0
		anyAbove := false
		for _, g := range group {
			if g.Window.Start < row.MinStart {
				row.MinStart = g.Window.Start
			}
			if g.Window.End > row.MaxEnd {
				row.MaxEnd = g.Window.End
			}
			sumResistant += g.Prediction.ResistantProb
			sumSusceptible += g.Prediction.SusceptibleProb
			if g.Prediction.ResistantProb > threshold {
				anyAbove = true
				aboveCount++
			}
		}

		n := float64(len(group))
		row.AvgResistanceProb = sumResistant / n
		row.AvgSusceptibleProb = sumSusceptible / n
		row.AnyResistance = anyAbove
		row.MajorityVote = float64(aboveCount) > n/2.0
		row.AverageProbability = row.AvgResistanceProb > threshold

		rows = append(rows, row)
	}
	return rows
}
