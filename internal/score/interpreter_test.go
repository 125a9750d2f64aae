package score

import (
	"errors"
	"math"
	"testing"

	"esgcore/internal/model"
)

func TestInterpretClampsEveryField(t *testing.T) {
	got, err := Interpret([]float64{5.0, -3.0, 0.5, 2.0, 10.0})
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	want := model.ESGScore{Environmental: 1, Social: 0, Governance: 0.5, Total: 1, Confidence: 1}
	if got != want {
		t.Fatalf("unexpected score: got=%+v want=%+v", got, want)
	}
}

func TestInterpretKeepsTotalIndependent(t *testing.T) {
	got, err := Interpret([]float64{0.9, 0.9, 0.9, 0.1, 0.4})
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if got.Total != 0.1 {
		t.Fatalf("total must come from its own output, got %f", got.Total)
	}
}

func TestInterpretNonFinite(t *testing.T) {
	got, err := Interpret([]float64{math.NaN(), math.Inf(1), math.Inf(-1), 0, 0})
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if got.Environmental != 0 || got.Social != 1 || got.Governance != 0 {
		t.Fatalf("unexpected non-finite handling: %+v", got)
	}
}

func TestInterpretRejectsWrongLength(t *testing.T) {
	for _, output := range [][]float64{nil, {1, 2, 3, 4}, {1, 2, 3, 4, 5, 6}} {
		_, err := Interpret(output)
		var interpErr *InterpretationError
		if !errors.As(err, &interpErr) {
			t.Fatalf("expected InterpretationError for %v, got %v", output, err)
		}
		if interpErr.Got != len(output) {
			t.Fatalf("unexpected reported length: %d", interpErr.Got)
		}
	}
}
