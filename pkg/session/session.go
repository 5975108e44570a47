// Package session persists explorer views so that an interactive session can
// resume where it left off.
//
// A session records the focus path (by node name, since node ids are not
// stable across builds), the depth window, the selected regimes and the
// only-mapped filter for one dataset source. Sessions expire after a TTL.
//
// # Usage
//
//	store, err := session.NewFileStore("") // ~/.config/controlsphere/sessions/
//	if err != nil {
//	    return err
//	}
//	sess, err := store.Get(ctx, session.IDFor(source))
//	if err != nil {
//	    return err
//	}
//	if sess == nil {
//	    sess = session.New(source, session.DefaultTTL)
//	}
//	...
//	sess.Capture(navigator, session.DefaultTTL)
//	store.Set(ctx, sess)
package session

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/matzehuels/controlsphere/pkg/cache"
	"github.com/matzehuels/controlsphere/pkg/core/nav"
	"github.com/matzehuels/controlsphere/pkg/core/regime"
)

// DefaultTTL is how long an untouched session is kept.
const DefaultTTL = 30 * 24 * time.Hour

// ErrNoSource is returned by [Session.Validate] for sessions without a source.
var ErrNoSource = errors.New("session: no source")

// Session is a saved explorer view.
type Session struct {
	ID     string `json:"id"`
	Source string `json:"source"`

	// Focus names the focused container below the root. Empty with Inside
	// set is the root from inside; empty without it is the outside view.
	Focus       []string `json:"focus,omitempty"`
	Inside      bool     `json:"inside"`
	DepthWindow int      `json:"depth_window"`
	Regimes     []string `json:"regimes"`
	OnlyMapped  bool     `json:"only_mapped,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IDFor derives the session id of a dataset source. File sources are made
// absolute first so relative invocations share a session.
func IDFor(source string) string {
	if !strings.Contains(source, "://") {
		if abs, err := filepath.Abs(source); err == nil {
			source = abs
		}
	}
	return cache.Hash([]byte(source))[:16]
}

// New creates an empty session for source.
func New(source string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:          IDFor(source),
		Source:      source,
		DepthWindow: nav.DefaultDepthWindow,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Validate checks that the session can be restored.
func (s *Session) Validate() error {
	if s.Source == "" {
		return ErrNoSource
	}
	if s.DepthWindow < 1 {
		return nav.ErrInvalidDepth
	}
	return nil
}

// Capture copies the navigator's settled view into the session and extends
// its expiry by ttl.
func (s *Session) Capture(n *nav.Navigator, ttl time.Duration) {
	path := n.FocusPath()
	s.Focus = s.Focus[:0]
	// The first crumb is the root.
	for _, c := range path[min(1, len(path)):] {
		s.Focus = append(s.Focus, c.Name)
	}
	s.Inside = n.Inside()
	s.DepthWindow = n.DepthWindow()
	s.Regimes = slices.Clone(n.Selection().Names())
	s.OnlyMapped = n.OnlyMapped()

	now := time.Now()
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(ttl)
}

// Restore applies the saved view to n. The focus path is resolved by name;
// when part of it no longer exists the deepest surviving container is
// focused and exact reports false.
func (s *Session) Restore(ctx context.Context, n *nav.Navigator) (exact bool, err error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	if s.DepthWindow != n.DepthWindow() {
		if err := n.SetDepthWindow(ctx, s.DepthWindow); err != nil {
			return false, err
		}
	}
	if len(s.Regimes) > 0 {
		if sel := regime.NewSelection(s.Regimes...); !sel.Equal(n.Selection()) {
			if err := n.SetSelection(ctx, sel); err != nil {
				return false, err
			}
		}
	}
	if s.OnlyMapped != n.OnlyMapped() {
		if err := n.SetOnlyMapped(ctx, s.OnlyMapped); err != nil {
			return false, err
		}
	}
	if !s.Inside {
		return true, n.ZoomToRoot(ctx)
	}
	target, exact := n.Tree().Resolve(s.Focus)
	return exact, n.JumpTo(ctx, target.ID, false)
}

// Store is the interface for session storage backends.
type Store interface {
	// Get retrieves a session by ID.
	// Returns nil, nil if the session doesn't exist or has expired.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Set stores a session.
	Set(ctx context.Context, session *Session) error

	// Delete removes a session.
	Delete(ctx context.Context, sessionID string) error

	// Cleanup removes expired sessions.
	Cleanup(ctx context.Context) error
}
