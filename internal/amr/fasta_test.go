package amr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFASTA_Valid(t *testing.T) {
	input := ">seq1 description\nACGTacgtNN\n>seq2\nACGT\nACGT\n"
	seqs, err := ParseFASTA(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, seqs, 2)
	require.Equal(t, "seq1 description", seqs[0].Header)
	require.Equal(t, "ACGTACGTNN", seqs[0].Bases)
	require.Equal(t, "seq2", seqs[1].Header)
	require.Equal(t, "ACGTACGT", seqs[1].Bases)
}

func TestParseFASTA_InvalidBase(t *testing.T) {
	_, err := ParseFASTA(strings.NewReader(">seq1\nACGTX\n"))
	require.Error(t, err)
}

func TestParseFASTA_NoSequences(t *testing.T) {
	_, err := ParseFASTA(strings.NewReader("\n\n"))
	require.Error(t, err)
}

func TestParseFASTA_DataBeforeHeader(t *testing.T) {
	_, err := ParseFASTA(strings.NewReader("ACGT\n>seq1\nACGT\n"))
	require.Error(t, err)
}

func TestParseFASTA_EmptyRecord(t *testing.T) {
	_, err := ParseFASTA(strings.NewReader(">seq1\n>seq2\nACGT\n"))
	require.Error(t, err)
}
