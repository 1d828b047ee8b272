package amr

import "fmt"

// Window is one (possibly overlapping) slice of a parsed sequence,
// carrying the original header so aggregation can group windows back
// by their source record (spec §4.3 step 3/5).
type Window struct {
	ID     string
	Header string
	Start  int // 1-based inclusive
	End    int // 1-based exclusive
	Bases  string
}

// Segment splits seq into overlapping windows of segmentLength with
// segmentOverlap shared bases between consecutive windows. A
// segmentLength of 0 means "no segmentation" -- the whole sequence is
// one window. The tail window may be shorter than segmentLength; a
// tail shorter than max(1, segmentLength-segmentOverlap) is dropped
// rather than emitted as a near-empty window (spec §4.3 step 3).
func Segment(seq Sequence, segmentLength, segmentOverlap int) []Window {
	if segmentLength <= 0 {
		return []Window{{
			ID:     fmt.Sprintf("%s_segment_0_1_%d", seq.Header, len(seq.Bases)+1),
			Header: seq.Header,
			Start:  1,
			End:    len(seq.Bases) + 1,
			Bases:  seq.Bases,
		}}
	}

	minTail := segmentLength - segmentOverlap
	if minTail < 1 {
		minTail = 1
	}
	stride := segmentLength - segmentOverlap
	if stride < 1 {
		stride = 1
	}

	var windows []Window
	n := len(seq.Bases)
	idx := 0
	for start := 0; start < n; start += stride {
		end := start + segmentLength
		if end > n {
			end = n
		}
		length := end - start
		if length < minTail {
			break
		}
		windows = append(windows, Window{
			ID:     fmt.Sprintf("%s_segment_%d_%d_%d", seq.Header, idx, start+1, end+1),
			Header: seq.Header,
			Start:  start + 1,
			End:    end + 1,
			Bases:  seq.Bases[start:end],
		})
		idx++
		if end == n {
			break
		}
	}
	return windows
}
