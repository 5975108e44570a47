package pipeline

import (
	"context"
	"strings"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/core/layout"
	"github.com/matzehuels/controlsphere/pkg/core/nav"
	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
	"github.com/matzehuels/controlsphere/pkg/scene"
)

// ComputeScene lays out the view described by opts and converts it to a
// scene. The view is reached through a [nav.Navigator] so that leaf foci and
// foci hidden by the selection resolve exactly as they do interactively.
func ComputeScene(ctx context.Context, tree *hierarchy.Tree, engine *layout.Engine, opts Options) (*scene.Scene, error) {
	palette, err := opts.Palette()
	if err != nil {
		return nil, err
	}

	n, err := nav.New(tree, engine, nav.Options{
		DepthWindow: opts.Depth,
		Selection:   opts.Selection(),
		OnlyMapped:  opts.OnlyMapped,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidInput, err, "navigator")
	}

	if opts.Inside() {
		target, ok := tree.Resolve(opts.Focus)
		if !ok {
			return nil, apperrors.New(apperrors.ErrCodeNodeNotFound,
				"no node at %q (deepest match: %s)", strings.Join(opts.Focus, " / "), target.Name)
		}
		err = n.JumpTo(ctx, target.ID, false)
	} else {
		err = n.Refresh(ctx)
	}
	if err != nil {
		return nil, err
	}
	return scene.FromEvent(tree, n.Event(), palette)
}

// sequentialIDs numbers nodes from 1 so that repeated builds of the same
// dataset produce identical scenes.
func sequentialIDs() func() int {
	next := 0
	return func() int {
		next++
		return next
	}
}
