// Package paginate splits an ordered result set into fixed-size pages.
package paginate

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// Source is a filtered, ordered result set that can be counted and sliced.
type Source[T any] interface {
	Count(ctx context.Context) (int, error)
	Slice(ctx context.Context, limit, offset int) ([]T, error)
}

type Page[T any] struct {
	Number         int  `json:"number"`
	NumPages       int  `json:"num_pages"`
	Count          int  `json:"count"`
	PerPage        int  `json:"per_page"`
	HasNext        bool `json:"has_next"`
	HasPrevious    bool `json:"has_previous"`
	NextNumber     int  `json:"next_page_number,omitempty"`
	PreviousNumber int  `json:"previous_page_number,omitempty"`
	Items          []T  `json:"object_list"`
}

// NumPages returns the page count for count items; an empty set still has one page.
func NumPages(count, perPage int) int {
	if count <= 0 || perPage <= 0 {
		return 1
	}
	return (count + perPage - 1) / perPage
}

// Clamp parses raw as a page number and clamps it into [1, numPages].
// Missing or non-numeric input selects the first page; a number too large
// to parse selects the last.
func Clamp(raw string, numPages int) int {
	raw = strings.TrimSpace(raw)
	n, err := strconv.Atoi(raw)
	if errors.Is(err, strconv.ErrRange) {
		if strings.HasPrefix(raw, "-") {
			return 1
		}
		return numPages
	}
	if err != nil || n < 1 {
		return 1
	}
	if n > numPages {
		return numPages
	}
	return n
}

func Fetch[T any](ctx context.Context, src Source[T], raw string, perPage int) (Page[T], error) {
	count, err := src.Count(ctx)
	if err != nil {
		return Page[T]{}, err
	}

	numPages := NumPages(count, perPage)
	number := Clamp(raw, numPages)

	page := Page[T]{
		Number:      number,
		NumPages:    numPages,
		Count:       count,
		PerPage:     perPage,
		HasNext:     number < numPages,
		HasPrevious: number > 1,
		Items:       []T{},
	}
	if page.HasNext {
		page.NextNumber = number + 1
	}
	if page.HasPrevious {
		page.PreviousNumber = number - 1
	}
	if count == 0 {
		return page, nil
	}

	items, err := src.Slice(ctx, perPage, (number-1)*perPage)
	if err != nil {
		return Page[T]{}, err
	}
	if items != nil {
		page.Items = items
	}
	return page, nil
}
