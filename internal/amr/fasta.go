package amr

import (
	"bufio"
	"io"
	"strings"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
)

// Sequence is one parsed FASTA record: a header line (without the
// leading '>') and its concatenated, upper-cased bases.
type Sequence struct {
	Header string
	Bases  string
}

var validBase = [256]bool{}

func init() {
	for _, b := range "ACGTN" {
		validBase[b] = true
	}
}

// ParseFASTA reads r as FASTA, validating every base against the
// {A,C,G,T,N} alphabet case-insensitively (spec §4.3 step 2). Any
// other character fails the whole parse with an InvalidInput error,
// matching the teacher's line-oriented scanner idiom in
// pkg/runtimeEnv's .env reader rather than pulling in a bioinformatics
// library the pack never uses.
func ParseFASTA(r io.Reader) ([]Sequence, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var seqs []Sequence
	var current *Sequence
	var lineNo int

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		if line[0] == '>' {
			if current != nil {
				seqs = append(seqs, *current)
			}
			current = &Sequence{Header: strings.TrimSpace(line[1:])}
			continue
		}
		if current == nil {
			return nil, apierror.InvalidInput("fasta line %d: sequence data before any header", lineNo)
		}
		upper := strings.ToUpper(line)
		for i := 0; i < len(upper); i++ {
			if !validBase[upper[i]] {
				return nil, apierror.InvalidInput(
					"fasta line %d: invalid base %q (allowed: A,C,G,T,N)", lineNo, string(upper[i]))
			}
		}
		current.Bases += upper
	}
	if err := scanner.Err(); err != nil {
		return nil, apierror.InvalidInput("reading fasta: %v", err)
	}
	if current != nil {
		seqs = append(seqs, *current)
	}
	if len(seqs) == 0 {
		return nil, apierror.InvalidInput("fasta file contains no sequences")
	}
	for _, s := range seqs {
		if len(s.Bases) == 0 {
			return nil, apierror.InvalidInput("fasta record %q has no bases", s.Header)
		}
	}
	return seqs, nil
}
