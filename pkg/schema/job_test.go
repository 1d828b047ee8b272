package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAMRJobParams_Validate(t *testing.T) {
	cases := []struct {
		name    string
		params  AMRJobParams
		wantErr bool
	}{
		{"valid defaults", AMRJobParams{BatchSize: 8, ResistanceThreshold: 0.5}, false},
		{"batch size zero", AMRJobParams{BatchSize: 0, ResistanceThreshold: 0.5}, true},
		{"negative segment length", AMRJobParams{BatchSize: 1, SegmentLength: -1, ResistanceThreshold: 0.5}, true},
		{"negative segment overlap", AMRJobParams{BatchSize: 1, SegmentOverlap: -1, ResistanceThreshold: 0.5}, true},
		{"overlap equals length", AMRJobParams{BatchSize: 1, SegmentLength: 100, SegmentOverlap: 100, ResistanceThreshold: 0.5}, true},
		{"overlap less than length ok", AMRJobParams{BatchSize: 1, SegmentLength: 100, SegmentOverlap: 50, ResistanceThreshold: 0.5}, false},
		{"threshold below zero", AMRJobParams{BatchSize: 1, ResistanceThreshold: -0.1}, true},
		{"threshold above one", AMRJobParams{BatchSize: 1, ResistanceThreshold: 1.1}, true},
		{"threshold boundary zero ok", AMRJobParams{BatchSize: 1, ResistanceThreshold: 0.0}, false},
		{"threshold boundary one ok", AMRJobParams{BatchSize: 1, ResistanceThreshold: 1.0}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.params.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	require.False(t, JobSubmitted.IsTerminal())
	require.False(t, JobRunning.IsTerminal())
	require.True(t, JobCompleted.IsTerminal())
	require.True(t, JobError.IsTerminal())
	require.True(t, JobCancelled.IsTerminal())
}
