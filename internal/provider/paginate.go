package provider

import "context"

// DefaultMaxPages bounds how many pages one invocation may fetch.
const DefaultMaxPages = 10

// Page is one response page normalised into internal types. Next is empty on
// the last page.
type Page[T any] struct {
	Items []T
	Next  string
}

// Collected is everything Paginate gathered.
type Collected[T any] struct {
	Items []T
	Pages int
	// Truncated is set when the page cap stopped pagination while the
	// provider still offered a next cursor. Next holds that cursor so a
	// later invocation can resume with PaginateFrom.
	Truncated bool
	Next      string
}

// FetchFunc fetches the page at cursor; "" is the first page.
type FetchFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Paginate follows cursors sequentially until the provider runs out of pages,
// maxPages is reached, or ctx is done. Items from pages fetched before an
// error are returned along with the error.
func Paginate[T any](ctx context.Context, maxPages int, fetch FetchFunc[T]) (Collected[T], error) {
	return PaginateFrom(ctx, maxPages, "", fetch)
}

// PaginateFrom is Paginate starting at cursor instead of the first page.
func PaginateFrom[T any](ctx context.Context, maxPages int, cursor string, fetch FetchFunc[T]) (Collected[T], error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var out Collected[T]
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		page, err := fetch(ctx, cursor)
		if err != nil {
			return out, err
		}
		out.Pages++
		out.Items = append(out.Items, page.Items...)

		if page.Next == "" {
			return out, nil
		}
		if out.Pages >= maxPages {
			out.Truncated = true
			out.Next = page.Next
			return out, nil
		}
		cursor = page.Next
	}
}
