package bakta

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
)

func TestParseJSON_ExtractsFeatures(t *testing.T) {
	data := `{
		"sequences": [{"id": "contig1"}],
		"features": [
			{"id": "gene1", "type": "CDS", "sequence": "contig1", "start": 1, "stop": 300, "strand": "+", "product": "hypothetical protein"},
			{"id": "gene2", "type": "tRNA", "sequence": "contig1", "start": 400, "stop": 470, "strand": "-"}
		]
	}`
	annotations, err := ParseJSON("job1", []byte(data))
	require.NoError(t, err)
	require.Len(t, annotations, 2)
	require.Equal(t, "gene1", annotations[0].FeatureID)
	require.Equal(t, "CDS", annotations[0].FeatureType)
	require.Equal(t, 1, annotations[0].Start)
	require.Equal(t, 300, annotations[0].End)
	require.Contains(t, annotations[0].AttributesJSON, "hypothetical protein")
}

func TestParseJSON_RejectsFeatureMissingID(t *testing.T) {
	data := `{"features": [{"type": "CDS", "start": 1, "stop": 10}]}`
	_, err := ParseJSON("job1", []byte(data))
	require.Error(t, err)
}

func TestParseJSON_MalformedJSONIsInvalidInput(t *testing.T) {
	_, err := ParseJSON("job1", []byte("not json"))
	require.Error(t, err)
	require.Equal(t, apierror.KindInvalidInput, apierror.KindOf(err))
}

func TestParseGFF3_SkipsCommentsAndShortRecords(t *testing.T) {
	input := "##gff-version 3\n" +
		"contig1\tBakta\tCDS\t1\t300\t.\t+\t0\tID=gene1;product=hypothetical\n" +
		"contig1\tBakta\ttRNA\t400\t470\t.\t-\t0\tID=gene2\n" +
		"malformed-line-too-short\n"

	annotations, err := ParseGFF3("job1", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, annotations, 2)
	require.Equal(t, "gene1", annotations[0].FeatureID)
	require.Equal(t, "contig1", annotations[0].Contig)
	require.Equal(t, 1, annotations[0].Start)
	require.Equal(t, 300, annotations[0].End)
	require.Equal(t, "+", annotations[0].Strand)
}

func TestParseGFF3_SynthesizesFeatureIDWhenAttributeMissing(t *testing.T) {
	input := "contig1\tBakta\tCDS\t10\t20\t.\t+\t0\tlocus_tag=XYZ\n"
	annotations, err := ParseGFF3("job1", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, annotations, 1)
	require.Equal(t, "contig1:10-20", annotations[0].FeatureID)
}

func TestParseTSV_RequiresCoreColumns(t *testing.T) {
	_, err := ParseTSV("job1", strings.NewReader("Sequence Id\tType\n"))
	require.Error(t, err)
}

func TestParseTSV_ExtractsRows(t *testing.T) {
	input := "Sequence Id\tType\tStart\tStop\tStrand\tLocus Tag\tGene\tProduct\n" +
		"contig1\tCDS\t1\t300\t+\tBAKTA_00001\tthrA\thomoserine dehydrogenase\n"

	annotations, err := ParseTSV("job1", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, annotations, 1)
	require.Equal(t, "BAKTA_00001", annotations[0].FeatureID)
	require.Equal(t, "CDS", annotations[0].FeatureType)
	require.Contains(t, annotations[0].AttributesJSON, "thrA")
}

func TestParseTSV_EmptyBodyYieldsNoAnnotations(t *testing.T) {
	annotations, err := ParseTSV("job1", strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, annotations)
}

func TestParseOptional_ReportsFailureAsWarningString(t *testing.T) {
	_, warning := parseOptional("job1", []byte("Sequence Id\tType\n"), ParseTSV)
	require.NotEmpty(t, warning)
}

func TestParseOptional_ReturnsAnnotationsOnSuccess(t *testing.T) {
	input := []byte("contig1\tBakta\tCDS\t1\t300\t.\t+\t0\tID=gene1\n")
	annotations, warning := parseOptional("job1", input, ParseGFF3)
	require.Empty(t, warning)
	require.Len(t, annotations, 1)
}
