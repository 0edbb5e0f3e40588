package tgui

import "fmt"

// Page is one window over a larger list. Index is 0-based; out-of-range
// requests clamp to the nearest valid page instead of going empty, so a
// stale ▶️ press after the list shrank still shows something.
type Page[T any] struct {
	Items   []T
	Index   int
	Size    int
	Total   int
	HasPrev bool
	HasNext bool
}

// Paginate slices items into the requested page. A non-positive size
// falls back to 10.
func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	last := 0
	if total > 0 {
		last = (total - 1) / size
	}
	if index < 0 {
		index = 0
	}
	if index > last {
		index = last
	}
	start := index * size
	end := start + size
	if end > total {
		end = total
	}
	return Page[T]{
		Items:   items[start:end],
		Index:   index,
		Size:    size,
		Total:   total,
		HasPrev: index > 0,
		HasNext: end < total,
	}
}

// Label renders a header like "Page 2/3 • 11–20 of 25".
func (p Page[T]) Label() string {
	if p.Total <= 0 {
		return "Page 1/1"
	}
	pages := (p.Total + p.Size - 1) / p.Size
	from := p.Index*p.Size + 1
	to := p.Index*p.Size + len(p.Items)
	return fmt.Sprintf("Page %d/%d • %d–%d of %d", p.Index+1, pages, from, to, p.Total)
}
