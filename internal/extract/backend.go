// Package extract pulls text, tables and images out of a document in a
// single traversal per format.
package extract

import "github.com/nowusman/DocGuard/internal/domain"

// Backend opens one document format.
type Backend interface {
	// Open parses data and returns a handle valid until Close.
	Open(data []byte) (Handle, error)
}

// Handle is an open document. Pages are zero-based.
type Handle interface {
	PageCount() int

	// PageBounds returns the page box in points. An empty Rect means the
	// format has no page geometry and clipping does not apply.
	PageBounds(page int) (domain.Rect, error)

	// TextForRegion returns the page text whose lines fall inside clip. An
	// empty clip selects the whole page.
	TextForRegion(page int, clip domain.Rect) (string, error)

	TablesOnPage(page int) ([]domain.TableRegion, error)
	ImagesOnPage(page int) ([]domain.ImageRegion, error)

	// Close releases every resource held by the handle.
	Close() error
}

// PageRenderer is implemented by handles that can rasterize a whole page,
// used to reach scanned pages with no text layer.
type PageRenderer interface {
	RenderPage(page int, dpi float64) (domain.ImageRegion, error)
}

// StructuralTabler is implemented by handles whose tables come from the
// document's own markup rather than layout detection. Options.SkipTables
// does not drop them.
type StructuralTabler interface {
	StructuralTables() bool
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(data []byte) (Handle, error)

func (f BackendFunc) Open(data []byte) (Handle, error) { return f(data) }
