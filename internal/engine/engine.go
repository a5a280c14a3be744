// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package engine drives the conversion lifecycle: loading documents into
// projects, rendering their pages, dispatching content analysis, and
// tearing projects down.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pdiddy/raster-engine/internal/registry"
	"github.com/pdiddy/raster-engine/internal/store"
	"github.com/pdiddy/raster-engine/pkg/types"
)

// Loader parses a raw document blob into a page-addressable handle.
type Loader interface {
	Load(data []byte) (registry.Handle, error)
}

// Analyzer produces a structured content summary from a rendered page
// image. Implementations are expected to be slow (network calls).
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, format types.ImageFormat) (*types.Analysis, error)
}

// Config wires an Engine's collaborators.
type Config struct {
	// Store holds project state. Required.
	Store *store.Store

	// Registry owns document handles. Required.
	Registry *registry.Registry

	// Loader parses document blobs. Required.
	Loader Loader

	// Analyzer summarizes first-page content. Optional: when nil,
	// conversion runs skip analysis entirely.
	Analyzer Analyzer

	// Logger receives engine events.
	Logger zerolog.Logger
}

// Engine converts loaded documents page by page. Conversion runs for
// different projects may proceed concurrently; at most one run per
// project is admitted.
type Engine struct {
	store    *store.Store
	registry *registry.Registry
	loader   Loader
	analyzer Analyzer
	log      zerolog.Logger

	mu   sync.Mutex
	runs map[string]*runState

	analyses sync.WaitGroup
}

// runState coordinates conversion runs with removal for one project.
// It is created when the project loads and discarded by Remove, so a
// concurrent Remove can always interrupt a run and then hold render to
// wait out any page render still in flight before the document handle
// is closed.
type runState struct {
	render sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
}

// setCancel installs (or clears) the in-flight run's cancel function.
func (r *runState) setCancel(fn context.CancelFunc) {
	r.mu.Lock()
	r.cancel = fn
	r.mu.Unlock()
}

// interrupt cancels the in-flight run, if any.
func (r *runState) interrupt() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
}

// newID generates project identifiers. Package-level var for test
// substitution.
var newID = uuid.NewString

// New returns an Engine wired from cfg.
func New(cfg Config) *Engine {
	return &Engine{
		store:    cfg.Store,
		registry: cfg.Registry,
		loader:   cfg.Loader,
		analyzer: cfg.Analyzer,
		log:      cfg.Logger,
		runs:     make(map[string]*runState),
	}
}

// Load ingests a document blob as a new project. The project is visible
// in the store for the duration of parsing with StatusLoading; on success
// it moves to StatusIdle with the page count filled in, on failure to
// StatusError. The returned project reflects the final state.
func (e *Engine) Load(ctx context.Context, name string, data []byte) (types.Project, error) {
	id := newID()
	e.mu.Lock()
	e.runs[id] = &runState{}
	e.mu.Unlock()

	e.store.Add(types.Project{
		ID:     id,
		Source: data,
		Metadata: types.Metadata{
			Name:      name,
			SizeBytes: int64(len(data)),
		},
		Status:   types.StatusLoading,
		Rendered: e.store.Session().Render,
	})

	handle, err := e.loader.Load(data)
	if err != nil {
		loadErr := fmt.Errorf("loading %s: %w", name, err)
		p, _ := e.store.Update(id, func(p types.Project) types.Project {
			p.Status = types.StatusError
			p.Error = loadErr.Error()
			return p
		})
		e.log.Error().Str("project", id).Str("name", name).Err(err).Msg("document load failed")
		return p, loadErr
	}

	if err := e.registry.Register(id, handle); err != nil {
		handle.Close()
		regErr := fmt.Errorf("loading %s: %w", name, err)
		p, _ := e.store.Update(id, func(p types.Project) types.Project {
			p.Status = types.StatusError
			p.Error = regErr.Error()
			return p
		})
		e.log.Error().Str("project", id).Str("name", name).Err(err).Msg("document registration failed")
		return p, regErr
	}

	p, _ := e.store.Update(id, func(p types.Project) types.Project {
		p.Status = types.StatusIdle
		p.Metadata.TotalPages = handle.NumPages()
		return p
	})
	e.log.Info().Str("project", id).Str("name", name).Int("pages", p.Metadata.TotalPages).Msg("document loaded")
	return p, nil
}

// Convert renders every not-yet-rendered page of the project using the
// session's render settings, updating progress after each page. Pages
// already rendered under the same settings are kept, so a failed or
// cancelled run resumes where it left off. The first page's image is
// handed to the analyzer once per project, without blocking the run.
//
// Convert fails with store.ErrAlreadyConverting when a run is already in
// flight for the project, and with store.ErrNotReady while it is loading.
func (e *Engine) Convert(ctx context.Context, id string) (types.Project, error) {
	settings := e.store.Session().Render
	p, err := e.store.BeginConversion(id, settings)
	if err != nil {
		return types.Project{}, err
	}

	e.mu.Lock()
	run := e.runs[id]
	e.mu.Unlock()
	if run == nil {
		// Removal won the race after admission.
		return types.Project{}, fmt.Errorf("converting %s: %w", id, store.ErrProjectNotFound)
	}

	runCtx, cancel := context.WithCancel(ctx)
	run.setCancel(cancel)
	defer func() {
		cancel()
		run.setCancel(nil)
	}()

	handle, ok := e.registry.Lookup(id)
	if !ok {
		p, _ = e.store.Update(id, func(p types.Project) types.Project {
			p.Status = types.StatusError
			p.Error = "document handle is gone"
			return p
		})
		return p, fmt.Errorf("converting %s: no document handle registered", id)
	}

	total := handle.NumPages()
	e.log.Info().Str("project", id).Int("pages", total).
		Str("format", string(settings.Format)).Int("dpi", settings.DPI).
		Msg("conversion started")

	for n := 1; n <= total; n++ {
		if err := runCtx.Err(); err != nil {
			return e.markCancelled(id, err)
		}
		if existing, ok := p.Page(n); ok {
			updated, ok := e.store.Update(id, func(p types.Project) types.Project {
				p.Progress = progressFor(n, total)
				return p
			})
			if !ok {
				return types.Project{}, fmt.Errorf("converting %s: %w", id, store.ErrProjectNotFound)
			}
			p = updated
			if n == 1 && p.Analysis == nil {
				e.dispatchAnalysis(id, existing)
			}
			continue
		}

		run.render.Lock()
		// Re-check under the render mutex: Remove discards the run
		// state, cancels the run, and closes the handle while holding
		// this mutex, so a stale handle must never reach RenderPage.
		if err := runCtx.Err(); err != nil {
			run.render.Unlock()
			return e.markCancelled(id, err)
		}
		e.mu.Lock()
		live := e.runs[id] == run
		e.mu.Unlock()
		if !live {
			run.render.Unlock()
			return e.markCancelled(id, store.ErrProjectNotFound)
		}
		page, err := handle.RenderPage(n, settings)
		run.render.Unlock()
		if err != nil {
			renderErr := fmt.Errorf("converting %s: page %d: %w", id, n, err)
			p, _ = e.store.Update(id, func(p types.Project) types.Project {
				p.Status = types.StatusError
				p.Error = renderErr.Error()
				return p
			})
			e.log.Error().Str("project", id).Int("page", n).Err(err).Msg("page render failed")
			return p, renderErr
		}

		updated, ok := e.store.Update(id, func(p types.Project) types.Project {
			p = p.WithPage(page)
			p.Progress = progressFor(n, total)
			return p
		})
		if !ok {
			// Project removed mid-run; the rendered page is discarded.
			return types.Project{}, fmt.Errorf("converting %s: %w", id, store.ErrProjectNotFound)
		}
		p = updated

		if n == 1 && p.Analysis == nil {
			e.dispatchAnalysis(id, page)
		}
	}

	p, _ = e.store.Update(id, func(p types.Project) types.Project {
		p.Status = types.StatusCompleted
		p.Progress = 100
		return p
	})
	e.log.Info().Str("project", id).Msg("conversion completed")
	return p, nil
}

// progressFor returns the conversion percentage for done of total pages.
func progressFor(done, total int) int {
	return int(math.Round(float64(done) / float64(total) * 100))
}

// markCancelled records a cancelled run on a still-present project.
func (e *Engine) markCancelled(id string, cause error) (types.Project, error) {
	p, _ := e.store.Update(id, func(p types.Project) types.Project {
		p.Status = types.StatusError
		p.Error = "conversion cancelled"
		return p
	})
	return p, fmt.Errorf("converting %s: %w", id, cause)
}

// dispatchAnalysis summarizes the first page in the background. Analysis
// outlives the conversion run that started it, so it gets a fresh
// context rather than the run's. Failures are logged and otherwise
// ignored; they never affect project status.
func (e *Engine) dispatchAnalysis(id string, page types.RenderedPage) {
	if e.analyzer == nil {
		return
	}
	e.analyses.Add(1)
	go func() {
		defer e.analyses.Done()

		a, err := e.analyzer.Analyze(context.Background(), page.Image, page.Format)
		if err != nil {
			e.log.Warn().Str("project", id).Err(err).Msg("content analysis failed")
			return
		}
		e.store.Update(id, func(p types.Project) types.Project {
			if p.Analysis == nil {
				p.Analysis = a
			}
			return p
		})
		e.log.Info().Str("project", id).Msg("content analysis stored")
	}()
}

// WaitAnalyses blocks until every dispatched analysis has finished.
func (e *Engine) WaitAnalyses() {
	e.analyses.Wait()
}

// Remove tears a project down: it cancels any in-flight conversion run,
// waits for the current page render to finish, then drops the project
// from the store and closes its document handle. Removing an unknown id
// is a no-op.
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	run := e.runs[id]
	delete(e.runs, id)
	e.mu.Unlock()

	if run != nil {
		run.interrupt()
		// The handle must not be closed under an in-flight render.
		run.render.Lock()
		defer run.render.Unlock()
	}

	e.store.Remove(id)
	e.registry.Unregister(id)
	e.log.Info().Str("project", id).Msg("project removed")
}
