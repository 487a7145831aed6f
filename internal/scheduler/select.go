package scheduler

import (
	"math/rand"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/model"
)

// SelectTask draws once and picks LM when lmProb exceeds the draw.
// Draws lie in [0,1), so lmProb <= 0 never selects LM and lmProb >= 1
// always does.
func SelectTask(rng *rand.Rand, lmProb float64) model.Task {
	if lmProb > rng.Float64() {
		return model.TaskLM
	}
	return model.TaskASR
}
