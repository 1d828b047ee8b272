package bakta

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/gast-project/gast-orchestrator/pkg/schema"
)

// bakta JSON result shape, trimmed to the fields annotation import needs.
// Bakta's actual result.json nests every predicted feature under
// "features", each carrying its own locus/location/type -- this mirrors
// that shape closely enough to round-trip the fields spec §3 BaktaAnnotation
// stores.
type resultJSON struct {
	Sequences []struct {
		ID string `json:"id"`
	} `json:"sequences"`
	Features []struct {
		ID       string                 `json:"id"`
		Type     string                 `json:"type"`
		Contig   string                 `json:"sequence"`
		Start    int                    `json:"start"`
		Stop     int                    `json:"stop"`
		Strand   string                 `json:"strand"`
		Locus    string                 `json:"locus,omitempty"`
		Product  string                 `json:"product,omitempty"`
		Gene     string                 `json:"gene,omitempty"`
		Extra    map[string]interface{} `json:"-"`
	} `json:"features"`
}

// ParseJSON decodes Bakta's primary result.json into BaktaAnnotation rows.
// This is the one parser whose failure is fatal to the job (spec §4.4b
// step 3).
func ParseJSON(jobID string, data []byte) ([]schema.BaktaAnnotation, error) {
	var result resultJSON
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, apierror.InvalidInput("decoding bakta result json: %v", err)
	}

	annotations := make([]schema.BaktaAnnotation, 0, len(result.Features))
	for _, f := range result.Features {
		if f.ID == "" || f.Type == "" {
			return nil, apierror.InvalidInput("bakta result json: feature missing id or type")
		}
		attrs := map[string]string{}
		if f.Locus != "" {
			attrs["locus"] = f.Locus
		}
		if f.Gene != "" {
			attrs["gene"] = f.Gene
		}
		if f.Product != "" {
			attrs["product"] = f.Product
		}
		attrJSON, err := json.Marshal(attrs)
		if err != nil {
			return nil, apierror.Internal("marshaling bakta feature attributes", err)
		}
		annotations = append(annotations, schema.BaktaAnnotation{
			JobID:          jobID,
			FeatureID:      f.ID,
			FeatureType:    f.Type,
			Contig:         f.Contig,
			Start:          f.Start,
			End:            f.Stop,
			Strand:         f.Strand,
			AttributesJSON: string(attrJSON),
		})
	}
	return annotations, nil
}

// ParseGFF3 decodes a Bakta GFF3 result file into BaktaAnnotation rows.
// Callers treat a non-nil error here as a warning, never a job failure.
// Its annotations are persisted only when no JSON result file exists.
func ParseGFF3(jobID string, r io.Reader) ([]schema.BaktaAnnotation, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var annotations []schema.BaktaAnnotation
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return annotations, apierror.InvalidInput("decoding bakta gff3: %v", err)
		}
		if len(record) < 9 {
			continue
		}
		contig, featureType, startStr, endStr, strand, attrField :=
			record[0], record[2], record[3], record[4], record[6], record[8]

		start, err := strconv.Atoi(strings.TrimSpace(startStr))
		if err != nil {
			continue
		}
		end, err := strconv.Atoi(strings.TrimSpace(endStr))
		if err != nil {
			continue
		}

		attrs := parseGFF3Attributes(attrField)
		featureID := attrs["ID"]
		if featureID == "" {
			featureID = fmt.Sprintf("%s:%d-%d", contig, start, end)
		}
		attrJSON, err := json.Marshal(attrs)
		if err != nil {
			return annotations, apierror.Internal("marshaling bakta gff3 attributes", err)
		}

		annotations = append(annotations, schema.BaktaAnnotation{
			JobID:          jobID,
			FeatureID:      featureID,
			FeatureType:    featureType,
			Contig:         contig,
			Start:          start,
			End:            end,
			Strand:         strand,
			AttributesJSON: string(attrJSON),
		})
	}
	return annotations, nil
}

// parseGFF3Attributes splits a GFF3 column-9 "key=value;key=value" field.
func parseGFF3Attributes(field string) map[string]string {
	attrs := map[string]string{}
	for _, pair := range strings.Split(field, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		attrs[kv[0]] = kv[1]
	}
	return attrs
}

// bakta TSV result columns, matching the annotation summary table Bakta
// ships alongside the GFF3/JSON results.
var tsvHeader = []string{"Sequence Id", "Type", "Start", "Stop", "Strand", "Locus Tag", "Gene", "Product"}

// ParseTSV decodes a Bakta tab-separated annotation summary into
// BaktaAnnotation rows. Like ParseGFF3, failures here degrade to a
// warning rather than failing the job.
func ParseTSV(jobID string, r io.Reader) ([]schema.BaktaAnnotation, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, apierror.InvalidInput("decoding bakta tsv: %v", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, want := range tsvHeader[:5] {
		if _, ok := col[want]; !ok {
			return nil, apierror.InvalidInput("bakta tsv missing required column %q", want)
		}
	}

	var annotations []schema.BaktaAnnotation
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return annotations, apierror.InvalidInput("decoding bakta tsv: %v", err)
		}
		get := func(name string) string {
			if i, ok := col[name]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		start, err := strconv.Atoi(get("Start"))
		if err != nil {
			continue
		}
		end, err := strconv.Atoi(get("Stop"))
		if err != nil {
			continue
		}

		attrs := map[string]string{}
		if locusTag := get("Locus Tag"); locusTag != "" {
			attrs["locus_tag"] = locusTag
		}
		if gene := get("Gene"); gene != "" {
			attrs["gene"] = gene
		}
		if product := get("Product"); product != "" {
			attrs["product"] = product
		}
		attrJSON, err := json.Marshal(attrs)
		if err != nil {
			return annotations, apierror.Internal("marshaling bakta tsv attributes", err)
		}

		contig := get("Sequence Id")
		featureID := get("Locus Tag")
		if featureID == "" {
			featureID = fmt.Sprintf("%s:%d-%d", contig, start, end)
		}

		annotations = append(annotations, schema.BaktaAnnotation{
			JobID:          jobID,
			FeatureID:      featureID,
			FeatureType:    get("Type"),
			Contig:         contig,
			Start:          start,
			End:            end,
			Strand:         get("Strand"),
			AttributesJSON: string(attrJSON),
		})
	}
	return annotations, nil
}

// parseOptional runs a secondary-format parser and reports failure as a
// plain string rather than an error, matching the warning-only isolation
// orchestrator.finish applies to non-JSON formats.
func parseOptional(jobID string, data []byte, parse func(jobID string, r io.Reader) ([]schema.BaktaAnnotation, error)) ([]schema.BaktaAnnotation, string) {
	annotations, err := parse(jobID, bytes.NewReader(data))
	if err != nil {
		return nil, err.Error()
	}
	return annotations, ""
}
