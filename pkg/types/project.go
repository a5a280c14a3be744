// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared data model for the conversion pipeline:
// projects, rendered pages, analysis results, and render settings.
package types

import "sort"

// ProjectStatus tracks a project's position in the conversion lifecycle.
type ProjectStatus string

const (
	// StatusLoading means the source document is being parsed.
	StatusLoading ProjectStatus = "loading"

	// StatusIdle means the document parsed successfully and is ready to convert.
	StatusIdle ProjectStatus = "idle"

	// StatusConverting means a conversion run is in progress.
	StatusConverting ProjectStatus = "converting"

	// StatusCompleted means every page has been rendered.
	StatusCompleted ProjectStatus = "completed"

	// StatusError means loading or a conversion run failed. Already-rendered
	// pages are retained; re-running convert resumes from them.
	StatusError ProjectStatus = "error"
)

// Metadata describes the source document of a project.
type Metadata struct {
	// Name is the document's file name as provided at load time.
	Name string `json:"name" yaml:"name"`

	// SizeBytes is the size of the raw document blob.
	SizeBytes int64 `json:"size_bytes" yaml:"size_bytes"`

	// TotalPages is the document's page count. Zero until loading completes.
	TotalPages int `json:"total_pages" yaml:"total_pages"`
}

// RenderedPage is one page's rasterized output. It is created once when a
// page render succeeds and never mutated afterwards.
type RenderedPage struct {
	// PageNumber is the 1-based page index within the source document.
	PageNumber int `json:"page_number" yaml:"page_number"`

	// Image is the encoded raster payload in the format selected at
	// conversion time.
	Image []byte `json:"-" yaml:"-"`

	// Format is the raster format Image is encoded in.
	Format ImageFormat `json:"format" yaml:"format"`
}

// Analysis is the structured content summary produced from a document's
// first rendered page.
type Analysis struct {
	// SuggestedTitle is a concise title inferred from the page content.
	SuggestedTitle string `json:"suggested_title" yaml:"suggested_title"`

	// Summary is a short abstract of the document.
	Summary string `json:"summary" yaml:"summary"`

	// KeyPoints lists the main insights found on the page.
	KeyPoints []string `json:"key_points" yaml:"key_points"`
}

// Project is one loaded document and its full conversion state.
type Project struct {
	// ID is an opaque unique identifier assigned at load time.
	ID string `json:"id" yaml:"id"`

	// Source is the raw document blob as provided at load time. Never
	// mutated after creation.
	Source []byte `json:"-" yaml:"-"`

	// Metadata describes the source document.
	Metadata Metadata `json:"metadata" yaml:"metadata"`

	// Status is the project's position in the conversion lifecycle.
	Status ProjectStatus `json:"status" yaml:"status"`

	// Pages holds the rendered pages, sorted ascending by page number,
	// at most one entry per page number.
	Pages []RenderedPage `json:"pages" yaml:"pages"`

	// Progress is the conversion percentage in [0,100]. Meaningful only
	// while Status is StatusConverting.
	Progress int `json:"progress" yaml:"progress"`

	// Analysis is the content summary, set at most once per project.
	Analysis *Analysis `json:"analysis,omitempty" yaml:"analysis,omitempty"`

	// Error describes a load or conversion failure. Empty unless Status
	// is StatusError.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Rendered records the settings the entries in Pages were produced
	// with. Converting with different settings discards stale pages.
	Rendered RenderSettings `json:"rendered" yaml:"rendered"`
}

// Page returns the rendered page with the given number, if present.
func (p Project) Page(pageNumber int) (RenderedPage, bool) {
	for _, pg := range p.Pages {
		if pg.PageNumber == pageNumber {
			return pg, true
		}
	}
	return RenderedPage{}, false
}

// HasPage reports whether the page with the given number has been rendered.
func (p Project) HasPage(pageNumber int) bool {
	_, ok := p.Page(pageNumber)
	return ok
}

// WithPage returns a copy of the project with pg inserted into Pages,
// keeping the slice sorted by page number. An existing entry with the same
// page number is replaced, so Pages never holds duplicates.
func (p Project) WithPage(pg RenderedPage) Project {
	pages := make([]RenderedPage, 0, len(p.Pages)+1)
	replaced := false
	for _, existing := range p.Pages {
		if existing.PageNumber == pg.PageNumber {
			pages = append(pages, pg)
			replaced = true
			continue
		}
		pages = append(pages, existing)
	}
	if !replaced {
		pages = append(pages, pg)
		sort.Slice(pages, func(i, j int) bool {
			return pages[i].PageNumber < pages[j].PageNumber
		})
	}
	p.Pages = pages
	return p
}

// Clone returns a copy of the project whose Pages slice is independent of
// the receiver's. Page payloads are shared; RenderedPage values are
// immutable once produced.
func (p Project) Clone() Project {
	if p.Pages != nil {
		pages := make([]RenderedPage, len(p.Pages))
		copy(pages, p.Pages)
		p.Pages = pages
	}
	if p.Analysis != nil {
		a := *p.Analysis
		p.Analysis = &a
	}
	return p
}
