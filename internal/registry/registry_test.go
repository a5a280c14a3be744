// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package registry

import (
	"errors"
	"testing"

	"github.com/pdiddy/raster-engine/pkg/types"
)

// fakeHandle implements Handle and records whether Close was called.
type fakeHandle struct {
	pages  int
	closed bool
}

func (f *fakeHandle) NumPages() int { return f.pages }

func (f *fakeHandle) RenderPage(pageNumber int, s types.RenderSettings) (types.RenderedPage, error) {
	return types.RenderedPage{PageNumber: pageNumber, Format: s.Format}, nil
}

func (f *fakeHandle) Close() error {
	f.closed = true
	return nil
}

func TestRegisterLookup(t *testing.T) {
	r := New()
	h := &fakeHandle{pages: 3}

	if err := r.Register("doc-1", h); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, ok := r.Lookup("doc-1")
	if !ok {
		t.Fatal("lookup should find registered handle")
	}
	if got.NumPages() != 3 {
		t.Errorf("pages = %d, want 3", got.NumPages())
	}

	if _, ok := r.Lookup("doc-2"); ok {
		t.Error("lookup should miss unknown id")
	}
}

func TestRegister_DuplicateID(t *testing.T) {
	r := New()
	if err := r.Register("doc-1", &fakeHandle{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := r.Register("doc-1", &fakeHandle{})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("err = %v, want ErrDuplicateID", err)
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}

func TestUnregister_ClosesHandle(t *testing.T) {
	r := New()
	h := &fakeHandle{}
	if err := r.Register("doc-1", h); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Unregister("doc-1")

	if !h.closed {
		t.Error("unregister should close the handle")
	}
	if _, ok := r.Lookup("doc-1"); ok {
		t.Error("handle should be gone after unregister")
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	r := New()
	r.Unregister("missing")

	h := &fakeHandle{}
	if err := r.Register("doc-1", h); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Unregister("doc-1")
	r.Unregister("doc-1")

	if r.Len() != 0 {
		t.Errorf("len = %d, want 0", r.Len())
	}
}
