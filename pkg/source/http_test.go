package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
)

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/controls.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"records": [{"id": "GOV-01", "domain": "Governance", "category": "Oversight"}],
				"domains": {"Governance": "Oversight of the program"}}`))
		case "/broken.json":
			_, _ = w.Write([]byte(`{"records": [`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	src := &HTTP{URL: srv.URL + "/controls.json", Token: "secret", Client: srv.Client()}
	ds, err := src.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(ds.Records) != 1 || ds.Records[0].ControlID != "GOV-01" {
		t.Errorf("records = %+v", ds.Records)
	}
	if ds.DomainDescriptions["Governance"] == "" {
		t.Error("domain descriptions missing")
	}

	missing := &HTTP{URL: srv.URL + "/nope.json", Token: "secret", Client: srv.Client()}
	if _, err := missing.Load(ctx); !apperrors.Is(err, apperrors.ErrCodeFileNotFound) {
		t.Errorf("missing document error = %v", err)
	}

	denied := &HTTP{URL: srv.URL + "/controls.json", Client: srv.Client()}
	if _, err := denied.Load(ctx); !apperrors.Is(err, apperrors.ErrCodeSourceUnavailable) {
		t.Errorf("unauthorized error = %v", err)
	}

	broken := &HTTP{URL: srv.URL + "/broken.json", Token: "secret", Client: srv.Client()}
	if _, err := broken.Load(ctx); err == nil {
		t.Error("truncated JSON should fail")
	}
}
