package output

import (
	"context"

	"search-agent/internal/domain/entity"
)

type SearchParams struct {
	Query      string
	Region     string
	SafeSearch string
	TimeLimit  string
	NumResults int
	Page       int
	Backend    string
}

// SearchProvider returns ranked results. Rate limiting is reported with an
// error matching ErrSearchRateLimited.
type SearchProvider interface {
	Search(ctx context.Context, params SearchParams) ([]entity.SearchResult, error)
}

type PageResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        string
}

// PageGetter performs one GET. A non-2xx status is not an error; transport
// failures are.
type PageGetter interface {
	Get(ctx context.Context, url string) (*PageResponse, error)
}
