package train

import (
	"fmt"
	"math/rand"

	"esgcore/internal/features"
	"esgcore/internal/model"
	"esgcore/internal/nn"
)

// Sample is one encoded training pair.
type Sample struct {
	Input  []float64
	Target []float64
}

// EncodeSamples encodes labeled records. Encoding problems are collected and
// returned beside the samples; the affected records are still used.
func EncodeSamples(enc *features.Encoder, records []model.LabeledRecord) ([]Sample, []*features.EncodingError) {
	samples := make([]Sample, 0, len(records))
	var issues []*features.EncodingError
	for _, rec := range records {
		vector, recIssues := enc.EncodeChecked(rec.Record)
		issues = append(issues, recIssues...)
		samples = append(samples, Sample{Input: vector, Target: rec.Target.Vector()})
	}
	return samples, issues
}

func checkSamples(samples []Sample, inputs int) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}
	for i, s := range samples {
		if len(s.Input) != inputs {
			return fmt.Errorf("sample %d: %w: input has %d values, want %d", i, nn.ErrInputSize, len(s.Input), inputs)
		}
		if len(s.Target) != model.ESGOutputs {
			return fmt.Errorf("sample %d: %w: target has %d values, want %d", i, nn.ErrInputSize, len(s.Target), model.ESGOutputs)
		}
	}
	return nil
}

// augment returns factor copies of every sample. The first copy is the
// original; the others scale each input by a factor drawn from
// [1-jitter, 1+jitter], so one-hot zeros stay zero.
func augment(rnd *rand.Rand, samples []Sample, factor int, jitter float64) []Sample {
	if factor <= 1 {
		return samples
	}
	out := make([]Sample, 0, len(samples)*factor)
	out = append(out, samples...)
	for c := 1; c < factor; c++ {
		for _, s := range samples {
			input := make([]float64, len(s.Input))
			for i, v := range s.Input {
				input[i] = v * (1 + jitter*(rnd.Float64()*2-1))
			}
			out = append(out, Sample{Input: input, Target: s.Target})
		}
	}
	return out
}
