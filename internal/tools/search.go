package tools

import (
	"context"
	"errors"
	"fmt"

	"aptos-agent/internal/aptos"
	"aptos-agent/internal/search/serpapi"
)

// Searcher is satisfied by *serpapi.Client.
type Searcher interface {
	Search(ctx context.Context, query string) (*serpapi.Result, error)
}

// WebSearchTool returns web_search. A nil searcher keeps the tool registered
// and reports the missing key as its result.
func WebSearchTool(searcher Searcher) *Tool {
	return &Tool{
		Name:        "web_search",
		Description: "Search the web using SerpAPI and return the top result snippet.",
		Parameters: objectSchema(map[string]any{
			"query": property("string", "search query"),
		}, "query"),
		Execute: func(ctx context.Context, args Args) (string, error) {
			query, err := args.String("query")
			if err != nil {
				return "", err
			}
			if searcher == nil {
				return "SerpAPI key not set. Please set SERPAPI_API_KEY in your environment.", nil
			}
			result, err := searcher.Search(ctx, query)
			if err != nil {
				return fmt.Sprintf("Web search failed: %v", err), nil
			}
			answer, err := result.TopAnswer()
			if errors.Is(err, serpapi.ErrNoResults) {
				return "No relevant web result found.", nil
			}
			return answer, nil
		},
	}
}

// Default assembles the full tool set in the order the agent presents it:
// arithmetic, web search, then the Aptos lookups.
func Default(networks *aptos.Registry, searcher Searcher) (*Registry, error) {
	all := ArithmeticTools()
	all = append(all, WebSearchTool(searcher))
	all = append(all, AptosTools(networks)...)
	return NewRegistry(all...)
}
