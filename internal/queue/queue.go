// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package queue orchestrates bulk conversion across every loaded project.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/pdiddy/raster-engine/internal/store"
	"github.com/pdiddy/raster-engine/pkg/types"
)

// ErrBusy means a bulk run is already in progress. Only one bulk run may
// be active at a time.
var ErrBusy = errors.New("bulk conversion already running")

// Converter runs a conversion for a single project. Satisfied by the
// engine.
type Converter interface {
	Convert(ctx context.Context, id string) (types.Project, error)
}

// BatchResult holds the outcome of a bulk conversion run.
type BatchResult struct {
	Converted int
	Skipped   int
	Failed    int
}

// Total returns the total number of projects processed.
func (r BatchResult) Total() int {
	return r.Converted + r.Skipped + r.Failed
}

// HasFailures reports whether any project failed conversion.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// Orchestrator serializes bulk conversion runs over the project store.
type Orchestrator struct {
	store     *store.Store
	converter Converter
	log       zerolog.Logger
	busy      atomic.Bool
}

// New returns an Orchestrator converting projects from st through c.
func New(st *store.Store, c Converter, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{store: st, converter: c, log: log}
}

// Busy reports whether a bulk run is in progress.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// ConvertAll converts every loaded project in order, printing per-project
// status to w and returning a summary. Projects already completed are
// skipped; a failing project does not stop the run. It fails with ErrBusy
// when another bulk run is in flight.
func (o *Orchestrator) ConvertAll(ctx context.Context, w io.Writer) (BatchResult, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return BatchResult{}, ErrBusy
	}
	defer o.busy.Store(false)

	var result BatchResult
	for _, p := range o.store.List() {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if p.Status == types.StatusCompleted {
			fmt.Fprintf(w, "skipped: %s (already completed)\n", p.Metadata.Name)
			result.Skipped++
			continue
		}

		converted, err := o.converter.Convert(ctx, p.ID)
		if err != nil {
			fmt.Fprintf(w, "failed:  %s (%v)\n", p.Metadata.Name, err)
			o.log.Warn().Str("project", p.ID).Err(err).Msg("bulk conversion item failed")
			result.Failed++
			continue
		}

		fmt.Fprintf(w, "converted: %s (%d pages)\n", converted.Metadata.Name, len(converted.Pages))
		result.Converted++
	}

	fmt.Fprintf(w, "\nBatch summary: %d converted, %d skipped, %d failed (total: %d)\n",
		result.Converted, result.Skipped, result.Failed, result.Total())
	return result, nil
}
