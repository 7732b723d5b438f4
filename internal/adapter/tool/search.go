package tool

import (
	"context"
	"errors"

	"search-agent/internal/domain/entity"
)

const searchDescription = "Search keywords with DuckDuckGo Text Search and return search results with each websites' contents."

type SearchArgs struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"Search query (general search commands are available such as -{excludeword}, site:{website} and filetype:{filetype}), e.g. weather forecast site:weather.gov"`
}

// Searcher is implemented by websearch.Client.
type Searcher interface {
	SearchWithContents(ctx context.Context, query string) ([]entity.SearchResult, error)
	SearchWithContentsConcurrent(ctx context.Context, query string) ([]entity.SearchResult, error)
}

// NewSearchTool exposes a Searcher as "search_with_contents". Search
// failures are returned to the model as their failure text, not as errors.
func NewSearchTool(s Searcher) (*Tool[SearchArgs], error) {
	return New(entity.ToolSearchWithContents, searchDescription,
		searchFunc(s.SearchWithContents),
		WithAsync(searchFunc(s.SearchWithContentsConcurrent)),
	)
}

func searchFunc(search func(context.Context, string) ([]entity.SearchResult, error)) Func[SearchArgs] {
	return func(ctx context.Context, args SearchArgs) (any, error) {
		results, err := search(ctx, args.Query)
		if err != nil {
			var failure *entity.Failure
			if errors.As(err, &failure) {
				return failure.Error(), nil
			}
			return nil, err
		}
		return results, nil
	}
}
