package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
)

func TestDecodeJSONArray(t *testing.T) {
	input := `[
		{"id": "GOV-01", "name": "Governance Program", "domain": "Governance", "pptdf": "Oversight", "weight": 10,
		 "mappings": [{"regime": "NIST CSF 2.0", "value": "GV.OC-01\nGV.OC-02"}]},
		{"id": "AST-01", "domain": "Assets", "category": "Inventory", "weight": "n/a"}
	]`
	ds, err := DecodeJSON(strings.NewReader(input))
	if err != nil {
		t.Fatalf("DecodeJSON() error: %v", err)
	}
	if len(ds.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(ds.Records))
	}

	gov := ds.Records[0]
	if gov.ControlID != "GOV-01" || gov.ControlName != "Governance Program" || gov.Category != "Oversight" {
		t.Errorf("record = %+v", gov)
	}
	if hierarchy.ParseWeight(gov.Weight) != 10 {
		t.Errorf("weight = %q", gov.Weight)
	}
	if len(gov.Mappings) != 1 || gov.Mappings[0].Value != "GV.OC-01\nGV.OC-02" {
		t.Errorf("mappings = %+v", gov.Mappings)
	}
	if hierarchy.ParseWeight(ds.Records[1].Weight) != hierarchy.DefaultWeight {
		t.Errorf("non-numeric weight should fall back to the default")
	}
}

func TestDecodeJSONObject(t *testing.T) {
	input := "\ufeff" + `{
		"records": [
			{"id": "GOV-01", "domain": "Governance", "category": "Oversight",
			 "mappings": {"PCI DSS 4.0.1": "12.1", "EMEA EU DORA": true, "HIPAA": false, "NIST CSF 2.0": null}}
		],
		"regimes": ["Europe\nEMEA EU DORA"],
		"domains": {"Governance": "Oversight of the program"}
	}`
	ds, err := DecodeJSON(strings.NewReader(input))
	if err != nil {
		t.Fatalf("DecodeJSON() error: %v", err)
	}
	if len(ds.Regimes) != 1 || ds.DomainDescriptions["Governance"] != "Oversight of the program" {
		t.Errorf("dataset metadata = %+v %+v", ds.Regimes, ds.DomainDescriptions)
	}
	want := []hierarchy.Mapping{
		{Regime: "EMEA EU DORA", Value: "x"},
		{Regime: "PCI DSS 4.0.1", Value: "12.1"},
	}
	got := ds.Records[0].Mappings
	if len(got) != len(want) {
		t.Fatalf("mappings = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mapping %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDecodeJSONErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"scalar", `"records"`},
		{"truncated", `[{"id": "GOV-01"`},
		{"bad mapping cell", `[{"id": "A", "domain": "D", "mappings": {"R": [1]}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON(strings.NewReader(tt.input))
			if !apperrors.Is(err, apperrors.ErrCodeInvalidFormat) {
				t.Errorf("DecodeJSON(%q) error = %v, want %s", tt.input, err, apperrors.ErrCodeInvalidFormat)
			}
		})
	}
}

func TestJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controls.json")
	if err := os.WriteFile(path, []byte(`[{"id": "GOV-01", "domain": "Governance"}]`), 0644); err != nil {
		t.Fatal(err)
	}

	src := &JSONFile{Path: path}
	if src.Name() != "file:"+path {
		t.Errorf("Name() = %q", src.Name())
	}
	ds, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(ds.Records) != 1 {
		t.Errorf("got %d records", len(ds.Records))
	}

	_, err = (&JSONFile{Path: filepath.Join(dir, "missing.json")}).Load(context.Background())
	if !apperrors.Is(err, apperrors.ErrCodeFileNotFound) {
		t.Errorf("missing file error = %v, want %s", err, apperrors.ErrCodeFileNotFound)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	ds := &Dataset{
		Records: []hierarchy.Record{{ControlID: "GOV-01", Domain: "Governance", Weight: "3",
			Mappings: []hierarchy.Mapping{{Regime: "NIST CSF 2.0", Value: "x"}}}},
		DomainDescriptions: map[string]string{"Governance": "desc"},
	}
	data, err := Marshal(ds)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeJSON(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("DecodeJSON() error: %v", err)
	}
	if got.Records[0].ControlID != "GOV-01" || got.Records[0].Weight != "3" || got.DomainDescriptions["Governance"] != "desc" {
		t.Errorf("round trip = %+v", got)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		uri        string
		wantName   string
		wantMongo  bool
		database   string
		collection string
	}{
		{uri: "data/controls.json", wantName: "file:data/controls.json"},
		{uri: "file:///tmp/controls.json", wantName: "file:/tmp/controls.json"},
		{uri: "https://example.com/controls.json", wantName: "http:https://example.com/controls.json"},
		{uri: "mongodb://localhost:27017", wantName: "mongo:controlsphere/controls", wantMongo: true,
			database: "controlsphere", collection: "controls"},
		{uri: "mongodb://localhost:27017/scf?collection=rows&domains=doms", wantName: "mongo:scf/rows", wantMongo: true,
			database: "scf", collection: "rows"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			src, err := Open(tt.uri)
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			if src.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", src.Name(), tt.wantName)
			}
			m, ok := src.(*Mongo)
			if ok != tt.wantMongo {
				t.Fatalf("source type = %T", src)
			}
			if ok {
				if m.Database != tt.database || m.Collection != tt.collection {
					t.Errorf("mongo = %+v", m)
				}
				if strings.Contains(m.URI, "collection=") {
					t.Errorf("URI should not carry source parameters: %s", m.URI)
				}
			}
		})
	}

	if _, err := Open(""); !apperrors.Is(err, apperrors.ErrCodeInvalidPath) {
		t.Errorf("Open(\"\") error = %v", err)
	}
	if _, err := Open("http://"); !apperrors.Is(err, apperrors.ErrCodeInvalidConfig) {
		t.Errorf("Open(\"http://\") error = %v", err)
	}
}

func TestRawWeight(t *testing.T) {
	tests := []struct {
		value any
		want  hierarchy.RawWeight
	}{
		{"7", "7"},
		{3.5, "3.5"},
		{int32(4), "4"},
		{int64(12), "12"},
		{true, ""},
	}
	for _, tt := range tests {
		typ, data, err := bson.MarshalValue(tt.value)
		if err != nil {
			t.Fatal(err)
		}
		if got := rawWeight(bson.RawValue{Type: typ, Value: data}); got != tt.want {
			t.Errorf("rawWeight(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
	if got := rawWeight(bson.RawValue{}); got != "" {
		t.Errorf("missing weight = %q", got)
	}
}

func TestMongoUnreachable(t *testing.T) {
	m := &Mongo{
		URI:        "mongodb://127.0.0.1:1/?directConnection=true",
		Database:   "scf",
		Collection: "controls",
		Timeout:    200 * time.Millisecond,
	}
	_, err := m.Load(context.Background())
	if err == nil {
		t.Fatal("Load() against a closed port should fail")
	}
	if code := apperrors.GetCode(err); code != apperrors.ErrCodeSourceUnavailable {
		t.Errorf("error code = %q, want %q", code, apperrors.ErrCodeSourceUnavailable)
	}
}
