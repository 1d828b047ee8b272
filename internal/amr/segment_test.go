package amr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegment_NoSegmentation(t *testing.T) {
	seq := Sequence{Header: "s1", Bases: "ACGTACGTACGT"}
	windows := Segment(seq, 0, 0)
	require.Len(t, windows, 1)
	require.Equal(t, seq.Bases, windows[0].Bases)
	require.Equal(t, 1, windows[0].Start)
	require.Equal(t, len(seq.Bases)+1, windows[0].End)
}

func TestSegment_OverlappingWindows(t *testing.T) {
	seq := Sequence{Header: "s1", Bases: "AAAABBBBCCCCDDDD"} // 16 bases
	windows := Segment(seq, 8, 4)
	require.NotEmpty(t, windows)
	for _, w := range windows {
		require.LessOrEqual(t, w.End-w.Start, 8)
		require.Contains(t, w.ID, seq.Header)
	}
	// stride = 8-4 = 4, so starts at 0,4,8 (the window at 8 reaches the end)
	require.Equal(t, 1, windows[0].Start)
	require.Equal(t, 9, windows[0].End)
}

func TestSegment_DropsShortTail(t *testing.T) {
	seq := Sequence{Header: "s1", Bases: "AAAAAAAAAA"} // 10 bases
	windows := Segment(seq, 8, 0)
	// stride 8: window [0,8), then [8,10) length 2 < minTail(8) -> dropped
	for _, w := range windows {
		require.GreaterOrEqual(t, w.End-w.Start, 8)
	}
}

func TestSegment_WindowIDPattern(t *testing.T) {
	seq := Sequence{Header: "chr1", Bases: "ACGTACGT"}
	windows := Segment(seq, 4, 0)
	require.NotEmpty(t, windows)
	require.Equal(t, "chr1_segment_0_1_5", windows[0].ID)
}
