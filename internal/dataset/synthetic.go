package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"esgcore/internal/model"
)

type location struct {
	municipality string
	region       string
}

var syntheticLocations = []location{
	{"São Paulo", "SP"},
	{"Rio de Janeiro", "RJ"},
	{"Belo Horizonte", "MG"},
	{"Porto Alegre", "RS"},
	{"Brasília", "DF"},
}

var categoryBase = map[string]float64{
	"Energia Renovavel": 0.9,
	"Eletrico":          0.85,
	"Hibrido":           0.75,
	"Sustentavel":       0.7,
	"Reciclagem":        0.65,
	"Outros":            0.5,
}

var syntheticCategories = []string{"Energia Renovavel", "Reciclagem", "Sustentavel", "Eletrico", "Hibrido", "Outros"}

var syntheticEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Synthetic returns n labeled records drawn from rnd. The same source state
// yields the same records.
func Synthetic(rnd *rand.Rand, n int) ([]model.LabeledRecord, error) {
	if rnd == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if n < 0 {
		return nil, fmt.Errorf("record count must be >= 0, got %d", n)
	}
	out := make([]model.LabeledRecord, 0, n)
	for i := 0; i < n; i++ {
		category := syntheticCategories[rnd.Intn(len(syntheticCategories))]
		loc := syntheticLocations[rnd.Intn(len(syntheticLocations))]
		id, err := uuid.NewRandomFromReader(rnd)
		if err != nil {
			return nil, err
		}
		record := model.TrainingRecord{
			ID:           id.String(),
			Amount:       math.Round(rnd.Float64()*2000*100) / 100,
			Category:     category,
			Municipality: loc.municipality,
			Region:       loc.region,
			CounterpartA: fmt.Sprintf("%014d", rnd.Int63n(1e14)),
			CounterpartB: fmt.Sprintf("%014d", rnd.Int63n(1e14)),
			IssuedAt:     syntheticEpoch.Add(time.Duration(rnd.Int63n(int64(365 * 24 * time.Hour)))).Truncate(time.Second),
			Verified:     rnd.Float64() < 0.8,
		}
		out = append(out, model.LabeledRecord{Record: record, Target: HeuristicScore(record)})
	}
	return out, nil
}

// HeuristicScore labels a record from its category and amount. It is the
// reference scorer the synthetic data is generated from.
func HeuristicScore(record model.TrainingRecord) model.ESGScore {
	base, ok := categoryBase[record.Category]
	if !ok {
		base = categoryBase["Outros"]
	}
	valueFactor := math.Min(math.Max(record.Amount, 0)/1000, 1)
	adjusted := base * (0.8 + 0.2*valueFactor)

	environmental := adjusted * 0.9
	if record.Category == "Energia Renovavel" || record.Category == "Eletrico" {
		environmental = adjusted
	}
	social := adjusted * 0.8
	if record.Category == "Sustentavel" || record.Category == "Reciclagem" {
		social = adjusted
	}
	governance := adjusted * 0.85

	return model.ESGScore{
		Environmental: environmental,
		Social:        social,
		Governance:    governance,
		Total:         (environmental + social + governance) / 3,
		Confidence:    0.85 + 0.1*valueFactor,
	}
}
