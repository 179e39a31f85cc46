package querying

import (
	"strconv"
	"strings"

	"github.com/nectic/terrier-core/internal/matching"
)

// Window is a zero-based inclusive rank range. Open means "through the end";
// End is ignored then.
type Window struct {
	Start int
	End   int
	Open  bool
}

// ParseWindow reads the start and end controls. A missing or empty end
// leaves the window open. Malformed or negative values count as 0.
func ParseWindow(start, end string) Window {
	w := Window{Start: atoiNonNegative(start)}
	if strings.TrimSpace(end) == "" {
		w.Open = true
	} else {
		w.End = atoiNonNegative(end)
	}
	return w
}

func atoiNonNegative(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// bounds resolves the window against a result of size n and returns the
// inclusive last rank and the crop length.
func (w Window) bounds(n int) (end, length int) {
	end = w.End
	if w.Open {
		end = n - 1
	}
	length = end - w.Start + 1
	if length > n-w.Start {
		length = n - w.Start
	}
	if length < 0 {
		length = 0
	}
	return end, length
}

// ApplyFilters runs filters over rs in rank order and keeps the surviving
// documents that fall inside w. It returns the new result and the number of
// documents that survived filtering before the window was filled. Filtering
// stops there, so with filters the count is at most w.End+1 for a closed
// window. The returned result keeps rs's ExactSize.
func ApplyFilters(r *Request, rs *matching.ResultSet, filters []PostFilter, w Window) (*matching.ResultSet, int) {
	n := rs.Size()
	end, length := w.bounds(n)

	if len(filters) == 0 {
		if w.Start == 0 && length == n {
			return rs, n
		}
		return rs.Crop(w.Start, length), n
	}

	for _, f := range filters {
		f.NewQuery(r, rs)
	}

	kept := make([]int, 0, length)
	surviving := 0
	for rank := 0; rank < n; rank++ {
		removed := false
		for _, f := range filters {
			if f.Filter(r, rs, rank, rs.DocIDs[rank]) == Remove {
				removed = true
				break
			}
		}
		if removed {
			continue
		}
		if surviving > end {
			break
		}
		if surviving >= w.Start {
			kept = append(kept, rank)
		}
		surviving++
	}

	if len(kept) < n {
		return rs.Select(kept), surviving
	}
	return rs, surviving
}
