package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	gh "github.com/google/go-github/v45/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	c := gh.NewClient(nil)
	c.BaseURL = base
	return &Client{gh: c}
}

func TestFailedStepsFollowsPages(t *testing.T) {
	mux := http.NewServeMux()
	var pages []string
	mux.HandleFunc("/repos/owner/repo/actions/runs/99/jobs", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		switch page {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<http://%s%s?page=2&per_page=100>; rel="next"`, r.Host, r.URL.Path))
			fmt.Fprint(w, `{"total_count":2,"jobs":[
				{"name":"lint","conclusion":"success","steps":[{"name":"vet","conclusion":"success"}]}
			]}`)
		case "2":
			fmt.Fprint(w, `{"total_count":2,"jobs":[
				{"name":"test","conclusion":"failure","html_url":"https://github.com/owner/repo/actions/runs/99/job/2",
				 "steps":[{"name":"checkout","conclusion":"success"},{"name":"go test","conclusion":"failure"}]}
			]}`)
		default:
			http.NotFound(w, r)
		}
	})

	steps, err := newTestClient(t, mux).FailedSteps(context.Background(), "owner/repo", 99)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "2"}, pages)
	assert.Equal(t, []FailedStep{
		{Job: "test", Step: "go test", URL: "https://github.com/owner/repo/actions/runs/99/job/2"},
	}, steps)
}

func TestFailedStepsWrapsErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/repo/actions/runs/99/jobs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"message":"upstream"}`)
	})

	_, err := newTestClient(t, mux).FailedSteps(context.Background(), "owner/repo", 99)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}
