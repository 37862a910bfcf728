package shared

// Page describes an offset window over a listing.
type Page struct {
	Limit   int
	Offset  int
	Total   int
	HasMore bool
}

// NewPage reports the window at offset of size limit over total rows.
func NewPage(limit, offset, total int) Page {
	return Page{
		Limit:   limit,
		Offset:  offset,
		Total:   total,
		HasMore: offset+limit < total,
	}
}

// ClampWindow applies the default and maximum page size. Negative offsets
// start from zero.
func ClampWindow(limit, offset, def, max int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
