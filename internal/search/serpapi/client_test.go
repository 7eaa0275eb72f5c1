package serpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "aptos-agent/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.httpClient = srv.Client()
	return client
}

func TestNewClientWithoutKey(t *testing.T) {
	_, err := NewClient(Config{})
	if xerrors.CodeOf(err) != xerrors.CodeSearchDisabled {
		t.Fatalf("expected search disabled, got %v", err)
	}
}

func TestSearchSendsParameters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "aptos tps" || q.Get("api_key") != "secret" || q.Get("engine") != "google" || q.Get("num") != "1" {
			t.Errorf("unexpected query %v", q)
		}
		fmt.Fprint(w, `{"answer_box":{"answer":"160,000"},"organic_results":[{"title":"t","snippet":"s"}]}`)
	})

	result, err := client.Search(context.Background(), "aptos tps")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	answer, err := result.TopAnswer()
	if err != nil || answer != "160,000" {
		t.Fatalf("unexpected answer %q, %v", answer, err)
	}
}

func TestTopAnswerPrecedence(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
		err  error
	}{
		{"snippet", `{"answer_box":{"type":"calculator"},"organic_results":[{"title":"t","snippet":"s"}]}`, "s", nil},
		{"title", `{"organic_results":[{"title":"t"}]}`, "t", nil},
		{"neither", `{"organic_results":[{"link":"https://example.com"}]}`, "No result found.", nil},
		{"empty", `{"organic_results":[]}`, "", ErrNoResults},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tc.body)
			})
			result, err := client.Search(context.Background(), "q")
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			got, err := result.TopAnswer()
			if !errors.Is(err, tc.err) {
				t.Fatalf("unexpected error %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSearchStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"Invalid API key."}`)
	})

	_, err := client.Search(context.Background(), "q")
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamStatus {
		t.Fatalf("expected upstream status, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid API key.") {
		t.Fatalf("error should carry the engine message: %v", err)
	}
}

func TestSearchTransportErrorIsRedacted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	client, err := NewClient(Config{APIKey: "secret", BaseURL: baseURL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Search(context.Background(), "q")
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamFailure {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("api key leaked: %v", err)
	}
}
