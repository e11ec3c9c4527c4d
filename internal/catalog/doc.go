// Package catalog fetches storefront listing pages and turns them into
// inventory.RawProduct tuples.
//
// HTML structure is confined to this package. Each page fetch yields a tagged
// PageResult so callers can tell the end of the catalog apart from a failed
// request.
package catalog
