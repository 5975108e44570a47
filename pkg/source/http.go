package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/matzehuels/controlsphere/pkg/httputil"
)

// HTTP loads a JSON dataset from a URL. Transient failures are retried.
type HTTP struct {
	URL string
	// Token, when set, is sent as a bearer Authorization header.
	Token  string
	Client *http.Client
}

// Name returns "http:<url>".
func (h *HTTP) Name() string { return "http:" + h.URL }

// Load fetches and decodes the document.
func (h *HTTP) Load(ctx context.Context) (*Dataset, error) {
	opts := httputil.FetchOptions{Client: h.Client}
	if h.Token != "" {
		opts.Header = http.Header{"Authorization": {"Bearer " + h.Token}}
	}
	body, err := httputil.Fetch(ctx, h.URL, opts)
	if err != nil {
		return nil, err
	}
	ds, err := DecodeJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.URL, err)
	}
	return ds, nil
}
