package catalog

import (
	"context"
	"errors"
	"fmt"

	"stockwatch/internal/inventory"
)

// PageKind tags a PageResult.
type PageKind int

const (
	PageProducts PageKind = iota
	PageEnd
	PageFailed
)

func (k PageKind) String() string {
	switch k {
	case PageProducts:
		return "page"
	case PageEnd:
		return "end_of_catalog"
	case PageFailed:
		return "fetch_failed"
	default:
		return fmt.Sprintf("PageKind(%d)", int(k))
	}
}

// PageResult is the outcome of fetching one listing page.
type PageResult struct {
	Kind     PageKind
	Products []inventory.RawProduct
	Skipped  int   // items on the page that could not be parsed
	Err      error // set for PageFailed
}

func Page(products []inventory.RawProduct) PageResult {
	return PageResult{Kind: PageProducts, Products: products}
}

func EndOfCatalog() PageResult { return PageResult{Kind: PageEnd} }

func FetchFailed(err error) PageResult { return PageResult{Kind: PageFailed, Err: err} }

// ErrUnparsable marks a page whose items matched but none yielded a product.
var ErrUnparsable = errors.New("no parsable products on page")

// Source yields listing pages, 1-based.
type Source interface {
	FetchPage(ctx context.Context, page int) PageResult
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, page int) PageResult

func (f SourceFunc) FetchPage(ctx context.Context, page int) PageResult { return f(ctx, page) }

// FetchError is a failed catalog page or image download.
type FetchError struct {
	URL    string
	Page   int // 0 for non-page fetches
	Status int // HTTP status; 0 when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("fetch %s: http %d", e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s failed", e.URL)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }
