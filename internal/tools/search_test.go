package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"aptos-agent/internal/aptos"
	"aptos-agent/internal/search/serpapi"
)

type stubSearcher struct {
	result *serpapi.Result
	err    error
	query  string
}

func (s *stubSearcher) Search(_ context.Context, query string) (*serpapi.Result, error) {
	s.query = query
	return s.result, s.err
}

func TestWebSearchWithoutKey(t *testing.T) {
	registry, err := NewRegistry(WebSearchTool(nil))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	got := invoke(t, registry, "web_search", `{"query":"aptos"}`)
	if got != "SerpAPI key not set. Please set SERPAPI_API_KEY in your environment." {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestWebSearchOutputs(t *testing.T) {
	cases := []struct {
		name     string
		searcher *stubSearcher
		want     string
	}{
		{"snippet", &stubSearcher{result: &serpapi.Result{OrganicResults: []serpapi.OrganicResult{{Title: "t", Snippet: "s"}}}}, "s"},
		{"empty", &stubSearcher{result: &serpapi.Result{}}, "No relevant web result found."},
		{"failure", &stubSearcher{err: errors.New("dial tcp: refused")}, "Web search failed: dial tcp: refused"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			registry, err := NewRegistry(WebSearchTool(tc.searcher))
			if err != nil {
				t.Fatalf("new registry: %v", err)
			}
			if got := invoke(t, registry, "web_search", `{"query":" aptos tps "}`); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
			if tc.searcher.query != "aptos tps" {
				t.Fatalf("query not trimmed: %q", tc.searcher.query)
			}
		})
	}
}

func TestDefaultToolSet(t *testing.T) {
	networks, err := aptos.NewRegistry(aptos.RegistryConfig{})
	if err != nil {
		t.Fatalf("aptos registry: %v", err)
	}
	all, err := Default(networks, nil)
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	got := strings.Join(all.Names(), ",")
	want := "add,sub,mul,web_search,get_aptos_balance,get_aptos_transaction_by_hash,estimate_aptos_gas_price," +
		"get_aptos_account_transaction_summaries,get_aptos_account_modules,get_aptos_account_module_names"
	if got != want {
		t.Fatalf("unexpected tool order %s", got)
	}
}
