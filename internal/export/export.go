// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package export names and packages rendered pages for download: single
// page files and zip archives of a whole project.
package export

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/pdiddy/raster-engine/pkg/types"
)

// Sentinel errors for export requests.
var (
	// ErrNoRenderedPages means the project has no pages to package.
	ErrNoRenderedPages = errors.New("no rendered pages to export")

	// ErrPageNotRendered means the requested page has not been rendered.
	ErrPageNotRendered = errors.New("page not rendered")
)

// Archive is a packaged project ready to be written out.
type Archive struct {
	// Name is the suggested file name for the archive.
	Name string

	// Data is the zip payload.
	Data []byte
}

// baseName strips the extension from the project's document name.
func baseName(p types.Project) string {
	name := p.Metadata.Name
	return strings.TrimSuffix(name, path.Ext(name))
}

// pageWidth returns the zero-padding width for page numbers: the digit
// count of the page total, so names sort lexicographically.
func pageWidth(p types.Project) int {
	total := p.Metadata.TotalPages
	if total < 1 {
		total = 1
	}
	return len(strconv.Itoa(total))
}

// PageFileName returns the download name for a single rendered page,
// e.g. "Page_03_300dpi.png" for page 3 of a 10-page document.
func PageFileName(p types.Project, pageNumber int) string {
	return fmt.Sprintf("Page_%0*d_%ddpi.%s",
		pageWidth(p), pageNumber, p.Rendered.DPI, p.Rendered.Format.Ext())
}

// entryName returns the archive entry name for a page, without the DPI
// suffix: the archive name already carries it.
func entryName(p types.Project, pageNumber int) string {
	return fmt.Sprintf("Page_%0*d.%s", pageWidth(p), pageNumber, p.Rendered.Format.Ext())
}

// ExportSingle returns the download name and payload for one rendered
// page of the project.
func ExportSingle(p types.Project, pageNumber int) (string, []byte, error) {
	pg, ok := p.Page(pageNumber)
	if !ok {
		return "", nil, fmt.Errorf("%w: page %d of %s", ErrPageNotRendered, pageNumber, p.Metadata.Name)
	}
	return PageFileName(p, pageNumber), pg.Image, nil
}

// ExportArchive packages every rendered page of the project into a zip
// archive. Entries live under a "<name>_images" folder and the archive
// name records the render resolution, e.g. "report_300dpi.zip".
func ExportArchive(p types.Project) (*Archive, error) {
	if len(p.Pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRenderedPages, p.Metadata.Name)
	}

	base := baseName(p)
	folder := base + "_images"

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, pg := range p.Pages {
		w, err := zw.Create(folder + "/" + entryName(p, pg.PageNumber))
		if err != nil {
			return nil, fmt.Errorf("archiving %s: %w", p.Metadata.Name, err)
		}
		if _, err := w.Write(pg.Image); err != nil {
			return nil, fmt.Errorf("archiving %s: %w", p.Metadata.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archiving %s: %w", p.Metadata.Name, err)
	}

	return &Archive{
		Name: fmt.Sprintf("%s_%ddpi.zip", base, p.Rendered.DPI),
		Data: buf.Bytes(),
	}, nil
}
