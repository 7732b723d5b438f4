package entity

// SearchResult is one provider hit. Order of a []SearchResult is the
// provider's rank order.
type SearchResult struct {
	Href     string         `json:"href"`
	Title    string         `json:"title,omitempty"`
	Snippet  string         `json:"body,omitempty"`
	Contents *string        `json:"contents,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// MarkForContents sets the placeholder contents key. A result filter uses it
// to select which entries get their page fetched.
func (r *SearchResult) MarkForContents() {
	empty := ""
	r.Contents = &empty
}

func (r SearchResult) WantsContents() bool {
	return r.Contents != nil
}

func (r *SearchResult) SetContents(s string) {
	r.Contents = &s
}

func (r SearchResult) ContentsText() string {
	if r.Contents == nil {
		return ""
	}
	return *r.Contents
}
