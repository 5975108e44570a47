package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
)

// JSONFile loads a dataset from a JSON file. See [DecodeJSON] for the
// accepted shapes.
type JSONFile struct {
	Path string
}

// Name returns "file:<path>".
func (f *JSONFile) Name() string { return "file:" + f.Path }

// Load reads and decodes the file.
func (f *JSONFile) Load(ctx context.Context) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.Path)
	if os.IsNotExist(err) {
		return nil, apperrors.Wrap(apperrors.ErrCodeFileNotFound, err, "dataset %s not found", f.Path)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeSourceUnavailable, err, "open %s", f.Path)
	}
	defer file.Close()

	ds, err := DecodeJSON(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return ds, nil
}

// DecodeJSON reads a dataset in one of two shapes:
//
//	[ {record}, ... ]
//	{ "records": [ {record}, ... ], "regimes": [...], "domains": {name: description} }
//
// A record is
//
//	{ "id", "name", "domain", "category", "description", "weight",
//	  "mappings": [ {"regime", "value"}, ... ] }
//
// "pptdf" is accepted in place of "category", and mappings may also be an
// object from regime name to cell value.
func DecodeJSON(r io.Reader) (*Dataset, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidFormat, err, "empty dataset")
	}

	dec := json.NewDecoder(br)
	var doc jsonDataset
	switch first {
	case '[':
		err = dec.Decode(&doc.Records)
	case '{':
		err = dec.Decode(&doc)
	default:
		return nil, apperrors.New(apperrors.ErrCodeInvalidFormat, "dataset must be a JSON array or object, got %q", first)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidFormat, err, "decode dataset")
	}

	ds := &Dataset{
		Records:            make([]hierarchy.Record, len(doc.Records)),
		Regimes:            doc.Regimes,
		DomainDescriptions: doc.Domains,
	}
	for i, rec := range doc.Records {
		ds.Records[i] = rec.record()
	}
	return ds, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case 0xEF: // UTF-8 byte order mark
			if _, err := br.Discard(2); err != nil {
				return 0, err
			}
			continue
		}
		return b, br.UnreadByte()
	}
}

type jsonDataset struct {
	Records []jsonRecord      `json:"records"`
	Regimes []string          `json:"regimes"`
	Domains map[string]string `json:"domains"`
}

type jsonRecord struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Domain      string              `json:"domain"`
	Category    string              `json:"category"`
	PPTDF       string              `json:"pptdf"`
	Description string              `json:"description"`
	Weight      hierarchy.RawWeight `json:"weight"`
	Mappings    jsonMappings        `json:"mappings"`
}

func (r jsonRecord) record() hierarchy.Record {
	category := r.Category
	if category == "" {
		category = r.PPTDF
	}
	return hierarchy.Record{
		ControlID:   r.ID,
		ControlName: r.Name,
		Domain:      r.Domain,
		Category:    category,
		Description: r.Description,
		Weight:      r.Weight,
		Mappings:    r.Mappings,
	}
}

// jsonMappings accepts an array of {regime, value} or an object keyed by
// regime. Object keys are sorted so builds stay deterministic.
type jsonMappings []hierarchy.Mapping

func (m *jsonMappings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = nil
		return nil
	}
	if data[0] == '[' {
		var list []hierarchy.Mapping
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*m = list
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("mappings: %w", err)
	}
	out := make([]hierarchy.Mapping, 0, len(obj))
	for _, regime := range slices.Sorted(maps.Keys(obj)) {
		value, ok, err := cellValue(obj[regime])
		if err != nil {
			return fmt.Errorf("mappings[%q]: %w", regime, err)
		}
		if ok {
			out = append(out, hierarchy.Mapping{Regime: regime, Value: value})
		}
	}
	*m = out
	return nil
}

// cellValue converts a mapping cell to text. true is a presence marker;
// false and null mean no mapping.
func cellValue(raw json.RawMessage) (string, bool, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0, bytes.Equal(raw, []byte("null")), bytes.Equal(raw, []byte("false")):
		return "", false, nil
	case bytes.Equal(raw, []byte("true")):
		return "x", true, nil
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case raw[0] == '[' || raw[0] == '{':
		return "", false, fmt.Errorf("unsupported cell value %s", raw)
	}
	return string(raw), true, nil
}
