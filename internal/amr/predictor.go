package amr

import (
	"context"
	"hash/fnv"
)

// Prediction is the per-window model output (spec §4.3 step 4).
type Prediction struct {
	WindowID            string
	ResistantProb        float64
	SusceptibleProb      float64
}

// Predictor is the boundary to whatever ML backend actually runs
// inference -- this spec treats the model itself as external, the same
// way the Bakta annotation service is external: Predictor is the seam
// a real model-serving client plugs into. The only implementation
// shipped here is the deterministic stub below.
type Predictor interface {
	// Predict scores one batch of windows at once, mirroring spec §4.3
	// step 4's "process windows in batches of batch_size".
	Predict(ctx context.Context, useCPU bool, windows []Window) ([]Prediction, error)
}

// DeterministicPredictor is a hash-based stand-in for a real model: it
// derives a reproducible pseudo-probability from each window's bases so
// tests and local runs are deterministic without a GPU or network call.
type DeterministicPredictor struct{}

func (DeterministicPredictor) Predict(ctx context.Context, useCPU bool, windows []Window) ([]Prediction, error) {
	out := make([]Prediction, len(windows))
	for i, w := range windows {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w.Bases))
		resistant := float64(h.Sum32()%10001) / 10000.0
		out[i] = Prediction{
			WindowID:        w.ID,
			ResistantProb:   resistant,
			SusceptibleProb: 1.0 - resistant,
		}
	}
	return out, nil
}
