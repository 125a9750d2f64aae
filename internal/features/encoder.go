package features

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"esgcore/internal/model"
)

// FeatureSchemaVersion identifies the field order produced by Encode. Any
// change to the order or to a field's width must bump it: networks trained
// against one layout are meaningless under another.
const FeatureSchemaVersion = 1

const (
	// TemporalReference is 2^31 seconds, the signed 32-bit unix horizon.
	TemporalReference = 2147483648.0

	DefaultAmountScale   = 1000.0
	municipalityMaxRunes = 100
)

var (
	DefaultCategories = []string{"Energia Renovavel", "Reciclagem", "Sustentavel", "Eletrico", "Hibrido", "Outros"}
	DefaultRegions    = []string{"SP", "RJ", "MG", "RS"}
)

type Vector []float64

// EncodingError describes a malformed record field that was substituted
// rather than rejected.
type EncodingError struct {
	RecordID string
	Field    string
	Reason   string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("record %s: field %s: %s", e.RecordID, e.Field, e.Reason)
}

type Encoder struct {
	spec        model.EncoderSpec
	categories  map[string]int
	regions     map[string]int
	amountScale float64
}

func DefaultSpec() model.EncoderSpec {
	return model.EncoderSpec{
		FeatureVersion: FeatureSchemaVersion,
		Categories:     append([]string(nil), DefaultCategories...),
		Regions:        append([]string(nil), DefaultRegions...),
		AmountScale:    DefaultAmountScale,
	}
}

func Default() *Encoder {
	enc, err := New(DefaultSpec())
	if err != nil {
		panic(err)
	}
	return enc
}

func New(spec model.EncoderSpec) (*Encoder, error) {
	if spec.FeatureVersion == 0 {
		spec.FeatureVersion = FeatureSchemaVersion
	}
	if spec.FeatureVersion != FeatureSchemaVersion {
		return nil, model.Misconfigured("encoder.feature_version", "unsupported version %d (want %d)", spec.FeatureVersion, FeatureSchemaVersion)
	}
	if spec.AmountScale == 0 {
		spec.AmountScale = DefaultAmountScale
	}
	if spec.AmountScale < 0 || math.IsNaN(spec.AmountScale) || math.IsInf(spec.AmountScale, 0) {
		return nil, model.Misconfigured("encoder.amount_scale", "must be a positive finite number, got %v", spec.AmountScale)
	}
	categories, err := indexLabels("encoder.categories", spec.Categories)
	if err != nil {
		return nil, err
	}
	regions, err := indexLabels("encoder.regions", spec.Regions)
	if err != nil {
		return nil, err
	}
	spec.Categories = append([]string(nil), spec.Categories...)
	spec.Regions = append([]string(nil), spec.Regions...)
	return &Encoder{
		spec:        spec,
		categories:  categories,
		regions:     regions,
		amountScale: spec.AmountScale,
	}, nil
}

func indexLabels(field string, labels []string) (map[string]int, error) {
	if len(labels) == 0 {
		return nil, model.Misconfigured(field, "at least one label is required")
	}
	index := make(map[string]int, len(labels))
	for i, label := range labels {
		key := Normalize(label)
		if key == "" {
			return nil, model.Misconfigured(field, "label %d is empty", i)
		}
		if _, dup := index[key]; dup {
			return nil, model.Misconfigured(field, "duplicate label %q", label)
		}
		index[key] = i
	}
	return index, nil
}

// Spec returns the layout this encoder was built from.
func (e *Encoder) Spec() model.EncoderSpec {
	out := e.spec
	out.Categories = append([]string(nil), e.spec.Categories...)
	out.Regions = append([]string(nil), e.spec.Regions...)
	return out
}

// Size is the length of every vector Encode produces.
func (e *Encoder) Size() int {
	// amount, verified, categories+unknown, municipality, regions+overflow, issued_at
	return 1 + 1 + (len(e.categories) + 1) + 1 + (len(e.regions) + 1) + 1
}

func (e *Encoder) Encode(record model.TrainingRecord) Vector {
	vector, _ := e.EncodeChecked(record)
	return vector
}

// EncodeChecked encodes a record and reports every field it had to
// substitute. The returned vector is always complete and usable.
func (e *Encoder) EncodeChecked(record model.TrainingRecord) (Vector, []*EncodingError) {
	var issues []*EncodingError
	report := func(field, reason string) {
		issues = append(issues, &EncodingError{RecordID: record.ID, Field: field, Reason: reason})
	}

	out := make(Vector, 0, e.Size())

	amount := record.Amount
	switch {
	case math.IsNaN(amount) || math.IsInf(amount, 0):
		report("amount", "not a finite number")
		amount = 0
	case amount < 0:
		report("amount", "negative")
		amount = 0
	}
	out = append(out, EncodeNumeric(amount, e.amountScale))
	out = append(out, boolFeature(record.Verified))

	category, known := oneHot(e.categories, record.Category)
	switch {
	case strings.TrimSpace(record.Category) == "":
		report("category", "empty")
	case !known:
		report("category", fmt.Sprintf("unknown category %q", record.Category))
	}
	out = append(out, category...)

	regionBits, known := oneHot(e.regions, record.Region)
	switch {
	case utf8.RuneCountInString(Normalize(record.Region)) != 2:
		report("region", fmt.Sprintf("expected a 2-letter code, got %q", record.Region))
	case !known:
		report("region", fmt.Sprintf("unknown region %q", record.Region))
	}
	out = append(out, municipalityProxy(record.Municipality))
	out = append(out, regionBits...)

	if record.IssuedAt.IsZero() {
		report("issued_at", "missing timestamp")
		out = append(out, 0)
	} else {
		out = append(out, EncodeTemporal(record.IssuedAt))
	}

	return out, issues
}

// EncodeCategorical returns a one-hot vector over known plus a trailing
// unknown bucket.
func EncodeCategorical(category string, known []string) []float64 {
	index := make(map[string]int, len(known))
	for i, label := range known {
		if key := Normalize(label); key != "" {
			if _, dup := index[key]; !dup {
				index[key] = i
			}
		}
	}
	out := make([]float64, len(known)+1)
	if i, ok := index[Normalize(category)]; ok {
		out[i] = 1
	} else {
		out[len(known)] = 1
	}
	return out
}

// EncodeLocation returns the municipality proxy followed by the region
// one-hot and its overflow bucket.
func EncodeLocation(municipality, region string, regions []string) []float64 {
	out := make([]float64, 0, len(regions)+2)
	out = append(out, municipalityProxy(municipality))
	return append(out, EncodeCategorical(region, regions)...)
}

func EncodeNumeric(value, scale float64) float64 {
	return value / scale
}

func EncodeTemporal(t time.Time) float64 {
	return float64(t.Unix()) / TemporalReference
}

// oneHot reports whether label hit a known bucket.
func oneHot(index map[string]int, label string) ([]float64, bool) {
	out := make([]float64, len(index)+1)
	i, ok := index[Normalize(label)]
	if !ok {
		i = len(index)
	}
	out[i] = 1
	return out, ok
}

func municipalityProxy(name string) float64 {
	n := utf8.RuneCountInString(Normalize(name))
	if n > municipalityMaxRunes {
		n = municipalityMaxRunes
	}
	return float64(n) / municipalityMaxRunes
}

func boolFeature(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// Normalize folds case, strips diacritics and collapses whitespace so that
// "Energia Renovável" and "energia  renovavel" select the same bucket.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = strings.ToLower(s)
	}
	return strings.Join(strings.Fields(folded), " ")
}
