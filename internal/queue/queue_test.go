// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pdiddy/raster-engine/internal/store"
	"github.com/pdiddy/raster-engine/pkg/types"
)

// fakeConverter records conversion order and fails for ids in failIDs.
type fakeConverter struct {
	failIDs map[string]bool

	mu        sync.Mutex
	order     []string
	started   chan struct{}
	startOnce sync.Once
	block     chan struct{}
}

func (f *fakeConverter) Convert(ctx context.Context, id string) (types.Project, error) {
	if f.started != nil {
		f.startOnce.Do(func() { close(f.started) })
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.order = append(f.order, id)
	f.mu.Unlock()
	if f.failIDs[id] {
		return types.Project{}, errors.New("render blew up")
	}
	return types.Project{
		ID:       id,
		Metadata: types.Metadata{Name: id + ".pdf"},
		Status:   types.StatusCompleted,
		Pages:    []types.RenderedPage{{PageNumber: 1}},
	}, nil
}

func seed(st *store.Store, id string, status types.ProjectStatus) {
	st.Add(types.Project{
		ID:       id,
		Metadata: types.Metadata{Name: id + ".pdf"},
		Status:   status,
	})
}

func TestConvertAll(t *testing.T) {
	st := store.New()
	seed(st, "a", types.StatusIdle)
	seed(st, "b", types.StatusCompleted)
	seed(st, "c", types.StatusError)

	conv := &fakeConverter{}
	o := New(st, conv, zerolog.Nop())

	var out strings.Builder
	result, err := o.ConvertAll(context.Background(), &out)
	if err != nil {
		t.Fatalf("convert all: %v", err)
	}

	if result.Converted != 2 || result.Skipped != 1 || result.Failed != 0 {
		t.Errorf("result = %+v, want 2 converted, 1 skipped, 0 failed", result)
	}
	if result.Total() != 3 {
		t.Errorf("total = %d, want 3", result.Total())
	}

	// Completed projects are skipped; the rest convert in load order.
	want := []string{"a", "c"}
	if len(conv.order) != len(want) {
		t.Fatalf("order = %v, want %v", conv.order, want)
	}
	for i := range want {
		if conv.order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, conv.order[i], want[i])
		}
	}

	if !strings.Contains(out.String(), "skipped: b.pdf") {
		t.Errorf("output missing skip line:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Batch summary: 2 converted, 1 skipped, 0 failed (total: 3)") {
		t.Errorf("output missing summary:\n%s", out.String())
	}
}

func TestConvertAll_ContinuesAfterFailure(t *testing.T) {
	st := store.New()
	seed(st, "a", types.StatusIdle)
	seed(st, "b", types.StatusIdle)
	seed(st, "c", types.StatusIdle)

	conv := &fakeConverter{failIDs: map[string]bool{"b": true}}
	o := New(st, conv, zerolog.Nop())

	var out strings.Builder
	result, err := o.ConvertAll(context.Background(), &out)
	if err != nil {
		t.Fatalf("convert all: %v", err)
	}

	if result.Converted != 2 || result.Failed != 1 {
		t.Errorf("result = %+v, want 2 converted, 1 failed", result)
	}
	if !result.HasFailures() {
		t.Error("HasFailures should report true")
	}
	if len(conv.order) != 3 {
		t.Errorf("conversions = %d, want 3 (run must not stop at the failure)", len(conv.order))
	}
}

func TestConvertAll_RejectsConcurrentRun(t *testing.T) {
	st := store.New()
	seed(st, "a", types.StatusIdle)

	conv := &fakeConverter{
		started: make(chan struct{}),
		block:   make(chan struct{}),
	}
	o := New(st, conv, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.ConvertAll(context.Background(), &strings.Builder{})
	}()

	// Wait until the first run is inside the converter.
	<-conv.started

	_, err := o.ConvertAll(context.Background(), &strings.Builder{})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}

	close(conv.block)
	<-done

	if o.Busy() {
		t.Error("busy flag should clear after the run")
	}
}

func TestConvertAll_EmptyStore(t *testing.T) {
	o := New(store.New(), &fakeConverter{}, zerolog.Nop())

	var out strings.Builder
	result, err := o.ConvertAll(context.Background(), &out)
	if err != nil {
		t.Fatalf("convert all: %v", err)
	}
	if result.Total() != 0 {
		t.Errorf("total = %d, want 0", result.Total())
	}
	if !strings.Contains(out.String(), "Batch summary: 0 converted, 0 skipped, 0 failed (total: 0)") {
		t.Errorf("output missing summary:\n%s", out.String())
	}
}
