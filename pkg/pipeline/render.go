package pipeline

import (
	"context"
	"fmt"

	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
	"github.com/matzehuels/controlsphere/pkg/scene"
)

// Render encodes the scene in the requested formats.
func Render(ctx context.Context, s *scene.Scene, opts Options) (map[string][]byte, error) {
	dotOpts := scene.DOTOptions{Edges: opts.Edges, Labels: opts.Labels}
	artifacts := make(map[string][]byte, len(opts.Formats))

	var dot string
	for _, format := range opts.Formats {
		var data []byte
		var err error

		switch format {
		case FormatJSON:
			data, err = scene.Marshal(s)
		case FormatDOT:
			if dot == "" {
				dot = scene.ToDOT(s, dotOpts)
			}
			data = []byte(dot)
		case FormatSVG:
			if dot == "" {
				dot = scene.ToDOT(s, dotOpts)
			}
			data, err = scene.RenderSVG(ctx, dot)
		default:
			return nil, apperrors.New(apperrors.ErrCodeUnsupported, "unsupported format: %s", format)
		}

		if err != nil {
			return nil, fmt.Errorf("render %s: %w", format, err)
		}
		artifacts[format] = data
	}

	return artifacts, nil
}
