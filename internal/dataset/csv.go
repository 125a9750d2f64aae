package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"esgcore/internal/model"
)

var recordColumns = []string{
	"id", "amount", "category", "municipality", "region",
	"counterpart_a", "counterpart_b", "issued_at", "verified",
}

var targetColumns = []string{"environmental", "social", "governance", "total", "confidence"}

// ReadLabeledCSV reads records with their target scores. The header row is
// required; columns are matched by name and may appear in any order.
// confidence is optional and defaults to 1.
func ReadLabeledCSV(in io.Reader) ([]model.LabeledRecord, error) {
	rows, columns, err := readTable(in)
	if err != nil {
		return nil, err
	}
	for _, name := range targetColumns[:4] {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("csv column not found: %s", name)
		}
	}

	out := make([]model.LabeledRecord, 0, len(rows))
	for i, row := range rows {
		line := i + 2
		record, err := parseRecord(row, columns)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		target, err := parseTarget(row, columns)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		out = append(out, model.LabeledRecord{Record: record, Target: target})
	}
	return out, nil
}

// ReadRecordsCSV reads unlabeled records; target columns are ignored.
func ReadRecordsCSV(in io.Reader) ([]model.TrainingRecord, error) {
	rows, columns, err := readTable(in)
	if err != nil {
		return nil, err
	}
	out := make([]model.TrainingRecord, 0, len(rows))
	for i, row := range rows {
		record, err := parseRecord(row, columns)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		out = append(out, record)
	}
	return out, nil
}

func WriteLabeledCSV(out io.Writer, records []model.LabeledRecord) error {
	writer := csv.NewWriter(out)
	header := append(append([]string(nil), recordColumns...), targetColumns...)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, lr := range records {
		r := lr.Record
		issued := ""
		if !r.IssuedAt.IsZero() {
			issued = r.IssuedAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			r.ID,
			formatFloat(r.Amount),
			r.Category,
			r.Municipality,
			r.Region,
			r.CounterpartA,
			r.CounterpartB,
			issued,
			strconv.FormatBool(r.Verified),
		}
		for _, v := range lr.Target.Vector() {
			row = append(row, formatFloat(v))
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func readTable(in io.Reader) ([][]string, map[string]int, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("csv header is required")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, field := range header {
		columns[strings.ToLower(strings.TrimSpace(field))] = i
	}
	for _, name := range []string{"id", "amount", "category"} {
		if _, ok := columns[name]; !ok {
			return nil, nil, fmt.Errorf("csv column not found: %s", name)
		}
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row: %w", err)
		}
		if blankRecord(row) {
			continue
		}
		rows = append(rows, row)
	}
	return rows, columns, nil
}

func parseRecord(row []string, columns map[string]int) (model.TrainingRecord, error) {
	field := func(name string) string { return cell(row, columns, name) }

	record := model.TrainingRecord{
		ID:           field("id"),
		Category:     field("category"),
		Municipality: field("municipality"),
		Region:       field("region"),
		CounterpartA: field("counterpart_a"),
		CounterpartB: field("counterpart_b"),
	}
	if record.ID == "" {
		return record, fmt.Errorf("id is empty")
	}

	amount, err := strconv.ParseFloat(field("amount"), 64)
	if err != nil {
		return record, fmt.Errorf("parse amount: %w", err)
	}
	record.Amount = amount

	if raw := field("issued_at"); raw != "" {
		issued, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return record, fmt.Errorf("parse issued_at: %w", err)
		}
		record.IssuedAt = issued
	}
	if raw := field("verified"); raw != "" {
		verified, err := strconv.ParseBool(raw)
		if err != nil {
			return record, fmt.Errorf("parse verified: %w", err)
		}
		record.Verified = verified
	}
	return record, nil
}

func parseTarget(row []string, columns map[string]int) (model.ESGScore, error) {
	values := make([]float64, len(targetColumns))
	for i, name := range targetColumns {
		raw := cell(row, columns, name)
		if raw == "" && name == "confidence" {
			values[i] = 1
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.ESGScore{}, fmt.Errorf("parse %s: %w", name, err)
		}
		values[i] = v
	}
	return model.ESGScore{
		Environmental: values[0],
		Social:        values[1],
		Governance:    values[2],
		Total:         values[3],
		Confidence:    values[4],
	}, nil
}

func cell(row []string, columns map[string]int, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
