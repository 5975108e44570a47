package hierarchy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Uncategorized is the category assigned to records with a blank category.
const Uncategorized = "Uncategorized"

// DefaultWeight is used when a record's weight is missing or not a number.
const DefaultWeight = 1.0

// Mapping is one regime column of a record. Value holds the raw cell text,
// which may contain several tokens separated by newlines or commas, or a
// presence marker such as "x".
type Mapping struct {
	Regime string `json:"regime" bson:"regime"`
	Value  string `json:"value" bson:"value"`
}

// Record is one row of the source dataset.
type Record struct {
	ControlID   string    `json:"id" bson:"id"`
	ControlName string    `json:"name,omitempty" bson:"name,omitempty"`
	Domain      string    `json:"domain" bson:"domain"`
	Category    string    `json:"category,omitempty" bson:"category,omitempty"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	Weight      RawWeight `json:"weight,omitempty" bson:"weight,omitempty"`
	Mappings    []Mapping `json:"mappings,omitempty" bson:"mappings,omitempty"`
}

// RawWeight is the unparsed weight cell. Datasets carry weights as numbers,
// numeric strings, free text or nothing at all; [ParseWeight] decides.
type RawWeight string

// UnmarshalJSON accepts numbers, strings and null.
func (w *RawWeight) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*w = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = RawWeight(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("weight: %w", err)
	}
	*w = RawWeight(n.String())
	return nil
}

// ParseWeight converts a raw weight into a number. Missing, non-numeric and
// non-finite values yield [DefaultWeight].
func ParseWeight(raw RawWeight) float64 {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return DefaultWeight
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return DefaultWeight
	}
	return v
}

// NormalizeRegime collapses runs of whitespace (including the line breaks
// found in spreadsheet headers) into single spaces.
func NormalizeRegime(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// Tokens splits a raw mapping value into requirement tokens. Tokens are
// separated by line breaks or commas and trimmed; empty tokens are dropped.
// A presence marker ("x", "true", "yes") yields the control identifier as
// the only token.
func Tokens(value, controlID string) []string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	if isPresenceMarker(v) {
		return []string{controlID}
	}
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isPresenceMarker(v string) bool {
	switch strings.ToLower(v) {
	case "x", "true", "yes":
		return true
	}
	return false
}
