// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package render parses PDF blobs and rasterizes individual pages using
// the MuPDF engine via go-fitz.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/go-fitz"

	"github.com/pdiddy/raster-engine/internal/registry"
	"github.com/pdiddy/raster-engine/pkg/types"
)

// jpegQuality matches high-quality archival output without ballooning
// page payloads.
const jpegQuality = 95

// Document wraps a parsed PDF. It implements registry.Handle.
//
// A Document is not safe for concurrent use: MuPDF contexts are
// single-threaded, so callers serialize RenderPage and Close.
type Document struct {
	doc *fitz.Document
}

// Open parses a PDF from an in-memory blob.
func Open(data []byte) (*Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("parsing PDF: %w", err)
	}
	if doc.NumPage() == 0 {
		doc.Close()
		return nil, fmt.Errorf("parsing PDF: document has no pages")
	}
	return &Document{doc: doc}, nil
}

// NumPages returns the document's page count.
func (d *Document) NumPages() int {
	return d.doc.NumPage()
}

// RenderPage rasterizes the 1-based page at the given settings and
// encodes it in the selected format.
func (d *Document) RenderPage(pageNumber int, s types.RenderSettings) (types.RenderedPage, error) {
	if pageNumber < 1 || pageNumber > d.doc.NumPage() {
		return types.RenderedPage{}, fmt.Errorf("rendering page %d: out of range (document has %d pages)", pageNumber, d.doc.NumPage())
	}
	if err := s.Validate(); err != nil {
		return types.RenderedPage{}, fmt.Errorf("rendering page %d: %w", pageNumber, err)
	}

	img, err := d.doc.ImageDPI(pageNumber-1, float64(s.DPI))
	if err != nil {
		return types.RenderedPage{}, fmt.Errorf("rendering page %d: %w", pageNumber, err)
	}

	payload, err := Encode(img, s.Format)
	if err != nil {
		return types.RenderedPage{}, fmt.Errorf("rendering page %d: %w", pageNumber, err)
	}

	return types.RenderedPage{
		PageNumber: pageNumber,
		Image:      payload,
		Format:     s.Format,
	}, nil
}

// Close releases the MuPDF resources held by the document.
func (d *Document) Close() error {
	return d.doc.Close()
}

// Encode serializes a raster image in the given format.
func Encode(img image.Image, format types.ImageFormat) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case types.FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding PNG: %w", err)
		}
	case types.FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("encoding JPEG: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidFormat, format)
	}
	return buf.Bytes(), nil
}

// FitzLoader produces document handles backed by MuPDF.
type FitzLoader struct{}

// Load parses data into a page-addressable document handle.
func (FitzLoader) Load(data []byte) (registry.Handle, error) {
	return Open(data)
}
