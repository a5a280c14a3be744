// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store is the single source of truth for loaded projects and
// session settings. Callers receive and submit copies, never aliases into
// the store, so concurrent observers always see a consistent project.
package store

import (
	"errors"
	"sync"

	"github.com/pdiddy/raster-engine/pkg/types"
)

// Sentinel errors for conversion admission.
var (
	// ErrProjectNotFound means no project exists under the given id.
	ErrProjectNotFound = errors.New("project not found")

	// ErrAlreadyConverting means a conversion run is in progress for the
	// project. At most one run per project may be active.
	ErrAlreadyConverting = errors.New("conversion already in progress")

	// ErrNotReady means the project's document has not finished loading.
	ErrNotReady = errors.New("project still loading")
)

// Store holds the ordered project collection, the active-project
// selection, and the session render settings.
type Store struct {
	mu       sync.Mutex
	projects []types.Project
	session  types.Session
	subs     []func(types.Project)
}

// New returns an empty store with default session settings.
func New() *Store {
	return &Store{
		session: types.Session{
			ActiveTab: types.TabGallery,
			Render:    types.DefaultRenderSettings(),
		},
	}
}

// Subscribe registers fn to be called with a copy of every project that
// changes. Callbacks run outside the store lock, on the mutating
// goroutine, in mutation order.
func (s *Store) Subscribe(fn func(types.Project)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Add appends a project to the collection. The first project added
// becomes the active one.
func (s *Store) Add(p types.Project) {
	s.mu.Lock()
	s.projects = append(s.projects, p.Clone())
	if s.session.ActiveProjectID == "" {
		s.session.ActiveProjectID = p.ID
	}
	subs := s.subs
	s.mu.Unlock()

	for _, fn := range subs {
		fn(p.Clone())
	}
}

// Remove deletes the project with the given id. If it was the active
// project, the first remaining project is promoted (or the selection is
// cleared). Unknown ids are ignored.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.projects[:0:0]
	for _, p := range s.projects {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	s.projects = kept

	if s.session.ActiveProjectID == id {
		s.session.ActiveProjectID = ""
		if len(kept) > 0 {
			s.session.ActiveProjectID = kept[0].ID
		}
	}
}

// Get returns a copy of the project with the given id.
func (s *Store) Get(id string) (types.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.projects {
		if p.ID == id {
			return p.Clone(), true
		}
	}
	return types.Project{}, false
}

// List returns copies of all projects in load order.
func (s *Store) List() []types.Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Project, len(s.projects))
	for i, p := range s.projects {
		out[i] = p.Clone()
	}
	return out
}

// Len returns the number of loaded projects.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.projects)
}

// Update applies fn to a copy of the project with the given id and
// replaces the stored value with the result. It returns the updated
// project, or false if the project no longer exists, which lets a caller
// discard results for a project removed mid-flight.
func (s *Store) Update(id string, fn func(types.Project) types.Project) (types.Project, bool) {
	s.mu.Lock()
	idx := -1
	for i, p := range s.projects {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return types.Project{}, false
	}

	updated := fn(s.projects[idx].Clone())
	s.projects[idx] = updated
	subs := s.subs
	s.mu.Unlock()

	s.notify(subs, updated)
	return updated.Clone(), true
}

// BeginConversion atomically admits a conversion run for the project:
// it rejects absent, still-loading, and already-converting projects, and
// otherwise moves the project to StatusConverting with progress reset.
// Pages rendered under different settings than rs are discarded, so a
// format or resolution change never leaves mixed output.
func (s *Store) BeginConversion(id string, rs types.RenderSettings) (types.Project, error) {
	s.mu.Lock()
	idx := -1
	for i, p := range s.projects {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return types.Project{}, ErrProjectNotFound
	}

	p := s.projects[idx].Clone()
	switch p.Status {
	case types.StatusConverting:
		s.mu.Unlock()
		return types.Project{}, ErrAlreadyConverting
	case types.StatusLoading:
		s.mu.Unlock()
		return types.Project{}, ErrNotReady
	}

	if len(p.Pages) > 0 && p.Rendered != rs {
		p.Pages = nil
	}
	p.Status = types.StatusConverting
	p.Progress = 0
	p.Error = ""
	p.Rendered = rs

	s.projects[idx] = p
	subs := s.subs
	s.mu.Unlock()

	s.notify(subs, p)
	return p.Clone(), nil
}

// Session returns a copy of the current session settings.
func (s *Store) Session() types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// SetActive selects the active project. An empty id clears the selection.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.ActiveProjectID = id
}

// SetActiveTab selects the active result view.
func (s *Store) SetActiveTab(tab types.Tab) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.ActiveTab = tab
}

// SetRenderSettings validates and applies new render settings for
// subsequent conversion runs.
func (s *Store) SetRenderSettings(rs types.RenderSettings) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Render = rs
	return nil
}

func (s *Store) notify(subs []func(types.Project), p types.Project) {
	for _, fn := range subs {
		fn(p.Clone())
	}
}
