package catalog

import (
	"net/url"
	"strconv"

	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// Pagination strategies a caller may pin. Left unpinned, listings use
// offsets and hand out a cursor once the window would pass the depth
// threshold.
const (
	StrategyOffset = "offset"
	StrategyCursor = "cursor"
)

// PageRequest is the caller's pagination selection. The zero value asks
// for the first page at the default size.
type PageRequest struct {
	// Page is 1-based and only meaningful for offset pagination.
	Page int

	Size int

	// Cursor resumes a cursor-paginated listing; it takes precedence
	// over Page.
	Cursor string

	// Strategy pins "offset" or "cursor"; empty lets the service choose.
	Strategy string
}

// PageInfo summarizes the returned window. Page is zero in cursor mode,
// where absolute positions are unknown.
type PageInfo struct {
	Page       int `json:"page"`
	Size       int `json:"size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PageLinks navigates a listing. The values are query fragments relative
// to the collection URL. In cursor mode Next carries the resume cursor
// and Prev and Last are empty.
type PageLinks struct {
	First string `json:"first,omitempty"`
	Prev  string `json:"prev,omitempty"`
	Next  string `json:"next,omitempty"`
	Last  string `json:"last,omitempty"`
}

// PageOf is one window of a listing in the envelope shared by all list
// APIs.
type PageOf[T any] struct {
	Data       []T       `json:"data"`
	Pagination PageInfo  `json:"pagination"`
	Links      PageLinks `json:"links"`
}

// normalizePage applies the size bounds and decides the pagination mode.
// Offset windows starting at or past the cursor threshold are rejected:
// deep OFFSET scans degrade linearly, cursors do not.
func (s *Service) normalizePage(req PageRequest) (store.Page, bool, error) {
	size := req.Size
	if size <= 0 {
		size = s.pages.Size
	}
	if s.pages.MaxSize > 0 && size > s.pages.MaxSize {
		size = s.pages.MaxSize
	}
	number := req.Page
	if number <= 1 {
		number = 1
	}

	switch req.Strategy {
	case "", StrategyOffset, StrategyCursor:
	default:
		return store.Page{}, false, mcperr.Newf(mcperr.KindInvalidRequest,
			"unknown pagination strategy %q", req.Strategy)
	}

	cursorMode := req.Cursor != "" || req.Strategy == StrategyCursor
	if req.Cursor != "" && req.Strategy == StrategyOffset {
		return store.Page{}, false, mcperr.New(mcperr.KindInvalidRequest,
			"cursor given but strategy pinned to offset")
	}

	page := store.Page{Number: number, Size: size, Cursor: req.Cursor}
	if !cursorMode && s.pages.CursorThreshold > 0 && page.Offset() >= s.pages.CursorThreshold {
		return store.Page{}, false, mcperr.Newf(mcperr.KindInvalidRequest,
			"page %d is beyond the offset pagination window; continue with cursor pagination", number).
			WithCode("CURSOR_REQUIRED")
	}
	return page, cursorMode, nil
}

// buildPage assembles the response envelope for one window.
func buildPage[T any](data []T, total int, page store.Page, cursorMode bool, nextCursor string) *PageOf[T] {
	if data == nil {
		data = []T{}
	}

	info := PageInfo{Size: page.Size, Total: total}
	if page.Size > 0 {
		info.TotalPages = (total + page.Size - 1) / page.Size
	}

	var links PageLinks
	if cursorMode {
		links.First = pageQuery(url.Values{
			"size":     []string{strconv.Itoa(page.Size)},
			"strategy": []string{StrategyCursor},
		})
		if nextCursor != "" {
			links.Next = pageQuery(url.Values{
				"cursor": []string{nextCursor},
				"size":   []string{strconv.Itoa(page.Size)},
			})
		}
		return &PageOf[T]{Data: data, Pagination: info, Links: links}
	}

	info.Page = page.Number
	links.First = offsetLink(1, page.Size)
	if info.TotalPages > 0 {
		links.Last = offsetLink(info.TotalPages, page.Size)
	}
	if page.Number > 1 {
		links.Prev = offsetLink(page.Number-1, page.Size)
	}
	if page.Number < info.TotalPages {
		links.Next = offsetLink(page.Number+1, page.Size)
	}
	return &PageOf[T]{Data: data, Pagination: info, Links: links}
}

func offsetLink(page, size int) string {
	return pageQuery(url.Values{
		"page": []string{strconv.Itoa(page)},
		"size": []string{strconv.Itoa(size)},
	})
}

func pageQuery(values url.Values) string {
	return "?" + values.Encode()
}
