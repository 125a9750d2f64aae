package stats

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"esgcore/internal/model"
)

// MetricsSummary condenses a run's per-epoch metrics.
type MetricsSummary struct {
	Epochs            int           `json:"epochs"`
	InitialLoss       float64       `json:"initial_loss"`
	FinalLoss         float64       `json:"final_loss"`
	LossImprovement   float64       `json:"loss_improvement"`
	FinalAccuracy     float64       `json:"final_accuracy"`
	BestAccuracy      float64       `json:"best_accuracy"`
	FinalF1           float64       `json:"final_f1"`
	MeanEpochTime     time.Duration `json:"mean_epoch_time"`
	StdEpochTime      time.Duration `json:"std_epoch_time"`
	MeanInferenceTime time.Duration `json:"mean_inference_time"`
}

func Summarize(metrics []model.TrainingMetrics) MetricsSummary {
	summary := MetricsSummary{Epochs: len(metrics)}
	if len(metrics) == 0 {
		return summary
	}
	first, last := metrics[0], metrics[len(metrics)-1]
	summary.InitialLoss = first.Loss
	summary.FinalLoss = last.Loss
	summary.LossImprovement = first.Loss - last.Loss
	summary.FinalAccuracy = last.Accuracy
	summary.FinalF1 = last.F1

	epochTimes := make([]float64, len(metrics))
	inferenceTimes := make([]float64, len(metrics))
	for i, m := range metrics {
		if m.Accuracy > summary.BestAccuracy {
			summary.BestAccuracy = m.Accuracy
		}
		epochTimes[i] = float64(m.EpochTime)
		inferenceTimes[i] = float64(m.InferenceTime)
	}
	summary.MeanEpochTime = time.Duration(stat.Mean(epochTimes, nil))
	summary.MeanInferenceTime = time.Duration(stat.Mean(inferenceTimes, nil))
	if len(metrics) > 1 {
		summary.StdEpochTime = time.Duration(stat.StdDev(epochTimes, nil))
	}
	return summary
}

// SummarizeWindow summarizes the trailing window epochs. A non-positive
// window covers the whole run.
func SummarizeWindow(metrics []model.TrainingMetrics, window int) MetricsSummary {
	if window > 0 && len(metrics) > window {
		metrics = metrics[len(metrics)-window:]
	}
	return Summarize(metrics)
}
