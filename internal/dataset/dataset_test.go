package dataset

import (
	"bytes"
	"math"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"time"

	"esgcore/internal/model"
)

func TestReadLabeledCSV(t *testing.T) {
	input := strings.Join([]string{
		"ID,Amount,Category,Municipality,Region,Issued_At,Verified,Environmental,Social,Governance,Total",
		"r1,120.5,Reciclagem,Porto Alegre,RS,2024-03-01T10:00:00Z,true,0.6,0.65,0.55,0.6",
		"",
		"r2,0,Outros,,SP,,false,0.1,0.2,0.3,0.2",
	}, "\n")

	records, err := ReadLabeledCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	first := records[0]
	if first.Record.ID != "r1" || first.Record.Amount != 120.5 || !first.Record.Verified {
		t.Fatalf("unexpected record: %+v", first.Record)
	}
	if !first.Record.IssuedAt.Equal(time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected issued_at: %s", first.Record.IssuedAt)
	}
	if first.Target.Total != 0.6 || first.Target.Confidence != 1 {
		t.Fatalf("unexpected target: %+v", first.Target)
	}
	if !records[1].Record.IssuedAt.IsZero() || records[1].Record.Verified {
		t.Fatalf("expected empty optional fields, got %+v", records[1].Record)
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "missing-target", input: "id,amount,category,environmental\nr1,1,A,0.5"},
		{name: "missing-amount-column", input: "id,category,environmental,social,governance,total\nr1,A,1,1,1,1"},
		{name: "bad-amount", input: "id,amount,category,environmental,social,governance,total\nr1,abc,A,1,1,1,1"},
		{name: "bad-timestamp", input: "id,amount,category,issued_at,environmental,social,governance,total\nr1,1,A,yesterday,1,1,1,1"},
		{name: "empty-id", input: "id,amount,category,environmental,social,governance,total\n,1,A,1,1,1,1"},
		{name: "bad-target", input: "id,amount,category,environmental,social,governance,total\nr1,1,A,x,1,1,1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ReadLabeledCSV(strings.NewReader(tc.input)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestReadRecordsCSVIgnoresTargets(t *testing.T) {
	records, err := ReadRecordsCSV(strings.NewReader("id,amount,category,region\nr1,10,Hibrido,MG\n"))
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if len(records) != 1 || records[0].Region != "MG" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestLabeledRoundTrip(t *testing.T) {
	records, err := Synthetic(rand.New(rand.NewSource(4)), 5)
	if err != nil {
		t.Fatalf("synthetic: %v", err)
	}
	for _, format := range []Format{FormatCSV, FormatJSONL} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteLabeled(&buf, format, records); err != nil {
				t.Fatalf("write: %v", err)
			}
			got, err := ReadLabeled(&buf, format)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if len(got) != len(records) {
				t.Fatalf("expected %d records, got %d", len(records), len(got))
			}
			for i := range records {
				if got[i].Record.ID != records[i].Record.ID || !got[i].Record.IssuedAt.Equal(records[i].Record.IssuedAt) {
					t.Fatalf("record %d differs: %+v vs %+v", i, got[i].Record, records[i].Record)
				}
				if !reflect.DeepEqual(got[i].Target, records[i].Target) {
					t.Fatalf("target %d differs: %+v vs %+v", i, got[i].Target, records[i].Target)
				}
			}
		})
	}
}

func TestReadJSONL(t *testing.T) {
	input := "{\"id\":\"a\",\"amount\":5,\"category\":\"Eletrico\"}\n\n{\"id\":\"b\",\"amount\":7}\n"
	records, err := ReadRecordsJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read jsonl: %v", err)
	}
	if len(records) != 2 || records[1].Amount != 7 {
		t.Fatalf("unexpected records: %+v", records)
	}
	if _, err := ReadRecordsJSONL(strings.NewReader("{\"amount\":1}\n")); err == nil {
		t.Fatal("expected error for missing id")
	}
	if _, err := ReadLabeledJSONL(strings.NewReader("not json\n")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFormatFor(t *testing.T) {
	tests := map[string]Format{"a.csv": FormatCSV, "b.JSONL": FormatJSONL, "c.ndjson": FormatJSONL}
	for path, want := range tests {
		got, err := FormatFor(path)
		if err != nil || got != want {
			t.Fatalf("%s: got %q err=%v", path, got, err)
		}
	}
	if _, err := FormatFor("d.parquet"); err == nil {
		t.Fatal("expected unsupported extension error")
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	a, err := Synthetic(rand.New(rand.NewSource(9)), 20)
	if err != nil {
		t.Fatalf("synthetic: %v", err)
	}
	b, _ := Synthetic(rand.New(rand.NewSource(9)), 20)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same seed must produce identical records")
	}
	for _, lr := range a {
		for _, v := range lr.Target.Vector() {
			if v < 0 || v > 1 {
				t.Fatalf("target out of range: %+v", lr.Target)
			}
		}
	}
	if _, err := Synthetic(nil, 1); err == nil {
		t.Fatal("expected error for nil source")
	}
	if _, err := Synthetic(rand.New(rand.NewSource(1)), -1); err == nil {
		t.Fatal("expected error for negative count")
	}
}

func TestHeuristicScore(t *testing.T) {
	score := HeuristicScore(recordFor("Energia Renovavel", 1000))
	if math.Abs(score.Environmental-0.9) > 1e-12 {
		t.Fatalf("expected environmental 0.9, got %f", score.Environmental)
	}
	if math.Abs(score.Confidence-0.95) > 1e-12 {
		t.Fatalf("expected confidence 0.95, got %f", score.Confidence)
	}
	unknown := HeuristicScore(recordFor("Mineracao", 0))
	if math.Abs(unknown.Governance-0.5*0.8*0.85) > 1e-12 {
		t.Fatalf("unexpected governance for unknown category: %f", unknown.Governance)
	}
}

func recordFor(category string, amount float64) model.TrainingRecord {
	return model.TrainingRecord{ID: "x", Category: category, Amount: amount}
}
