// Package source loads control datasets.
//
// A [Source] yields a [Dataset]: the flat records the hierarchy is built
// from, the raw regime column headers, and optional domain descriptions.
// A dataset comes from a JSON export on disk ([JSONFile]), a JSON document
// served over HTTP ([HTTP]) or a MongoDB collection ([Mongo]).
//
// [Open] picks one from a URI:
//
//	src, err := source.Open("mongodb://localhost:27017/scf?collection=controls")
//	src, err := source.Open("https://example.com/scf/controls.json")
//	src, err := source.Open("data/controls.json")
package source

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
)

// Dataset is the raw input of the hierarchy builder.
type Dataset struct {
	Records []hierarchy.Record `json:"records" bson:"records"`
	// Regimes are the raw regime column headers ("category\nname"), used to
	// build the regime catalog. Optional.
	Regimes            []string          `json:"regimes,omitempty" bson:"regimes,omitempty"`
	DomainDescriptions map[string]string `json:"domains,omitempty" bson:"domains,omitempty"`
}

// Source loads a dataset.
type Source interface {
	// Name identifies the source in logs and cache keys.
	Name() string
	Load(ctx context.Context) (*Dataset, error)
}

// Marshal encodes a dataset in the object form [DecodeJSON] reads.
func Marshal(ds *Dataset) ([]byte, error) {
	return json.MarshalIndent(ds, "", "  ")
}

// Open returns the source for uri. mongodb:// and mongodb+srv:// URIs open
// a [Mongo] source; the database is taken from the path and the collection
// from the "collection" query parameter (default "controls"). http:// and
// https:// URLs open an [HTTP] source. Anything else is a file path,
// optionally with a file:// prefix.
func Open(uri string) (Source, error) {
	switch {
	case strings.HasPrefix(uri, "mongodb://"), strings.HasPrefix(uri, "mongodb+srv://"):
		return parseMongoURI(uri)
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		u, err := url.Parse(uri)
		if err != nil || u.Host == "" {
			return nil, apperrors.New(apperrors.ErrCodeInvalidConfig, "invalid dataset URL %q", uri)
		}
		return &HTTP{URL: uri}, nil
	case strings.HasPrefix(uri, "file://"):
		uri = strings.TrimPrefix(uri, "file://")
	}
	if err := apperrors.ValidateFilePath(uri); err != nil {
		return nil, err
	}
	return &JSONFile{Path: uri}, nil
}

func parseMongoURI(uri string) (*Mongo, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidConfig, err, "invalid MongoDB URI")
	}
	m := &Mongo{
		Database:   strings.TrimPrefix(u.Path, "/"),
		Collection: u.Query().Get("collection"),
		Domains:    u.Query().Get("domains"),
	}
	q := u.Query()
	q.Del("collection")
	q.Del("domains")
	u.RawQuery = q.Encode()
	m.URI = u.String()

	if m.Database == "" {
		m.Database = DefaultMongoDatabase
	}
	if m.Collection == "" {
		m.Collection = DefaultMongoCollection
	}
	return m, nil
}
