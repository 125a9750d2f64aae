package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"esgcore/internal/model"
)

const maxLineBytes = 1 << 20

func ReadLabeledJSONL(in io.Reader) ([]model.LabeledRecord, error) {
	var out []model.LabeledRecord
	err := scanJSONL(in, func(line int, data []byte) error {
		var lr model.LabeledRecord
		if err := json.Unmarshal(data, &lr); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if lr.Record.ID == "" {
			return fmt.Errorf("line %d: record id is empty", line)
		}
		out = append(out, lr)
		return nil
	})
	return out, err
}

func ReadRecordsJSONL(in io.Reader) ([]model.TrainingRecord, error) {
	var out []model.TrainingRecord
	err := scanJSONL(in, func(line int, data []byte) error {
		var record model.TrainingRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if record.ID == "" {
			return fmt.Errorf("line %d: record id is empty", line)
		}
		out = append(out, record)
		return nil
	})
	return out, err
}

func WriteLabeledJSONL(out io.Writer, records []model.LabeledRecord) error {
	enc := json.NewEncoder(out)
	for _, lr := range records {
		if err := enc.Encode(lr); err != nil {
			return err
		}
	}
	return nil
}

func scanJSONL(in io.Reader, fn func(line int, data []byte) error) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		if err := fn(line, data); err != nil {
			return err
		}
	}
	return scanner.Err()
}

type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// FormatFor picks a format from the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unsupported dataset extension: %q", filepath.Ext(path))
	}
}

func ReadLabeled(in io.Reader, format Format) ([]model.LabeledRecord, error) {
	switch format {
	case FormatCSV:
		return ReadLabeledCSV(in)
	case FormatJSONL:
		return ReadLabeledJSONL(in)
	default:
		return nil, fmt.Errorf("unsupported dataset format: %q", format)
	}
}

func ReadRecords(in io.Reader, format Format) ([]model.TrainingRecord, error) {
	switch format {
	case FormatCSV:
		return ReadRecordsCSV(in)
	case FormatJSONL:
		return ReadRecordsJSONL(in)
	default:
		return nil, fmt.Errorf("unsupported dataset format: %q", format)
	}
}

func WriteLabeled(out io.Writer, format Format, records []model.LabeledRecord) error {
	switch format {
	case FormatCSV:
		return WriteLabeledCSV(out, records)
	case FormatJSONL:
		return WriteLabeledJSONL(out, records)
	default:
		return fmt.Errorf("unsupported dataset format: %q", format)
	}
}
