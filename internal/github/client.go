package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v45/github"
	"golang.org/x/oauth2"

	"github.com/esnunes/hookrelay/internal/models"
	"github.com/esnunes/hookrelay/internal/repo"
)

// APIError is a non-2xx answer from the GitHub REST API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: HTTP %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus lets the retry policy classify the error.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

func wrapError(err error) error {
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return &APIError{StatusCode: respErr.Response.StatusCode, Message: respErr.Message}
	}
	return err
}

type FailedStep struct {
	Job  string
	Step string
	URL  string
}

type Review struct {
	ID    int64
	User  string
	State string // lower case: "approved", "changes_requested", "commented", "dismissed"
}

// Client fetches supplementary data that webhook payloads do not carry.
type Client struct {
	gh *gh.Client
}

// New creates a client. An empty token gives unauthenticated access, which
// is enough for public repositories within the anonymous rate limit.
func New(ctx context.Context, token string) *Client {
	var httpClient *http.Client
	if token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	return &Client{gh: gh.NewClient(httpClient)}
}

// FailedSteps lists the steps that failed in a workflow run.
func (c *Client) FailedSteps(ctx context.Context, repoName string, runID int64) ([]FailedStep, error) {
	owner, name, err := repo.Split(repoName)
	if err != nil {
		return nil, err
	}
	var failed []FailedStep
	opts := &gh.ListWorkflowJobsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		jobs, resp, err := c.gh.Actions.ListWorkflowJobs(ctx, owner, name, runID, opts)
		if err != nil {
			return nil, fmt.Errorf("listing workflow jobs: %w", wrapError(err))
		}
		for _, job := range jobs.Jobs {
			if job.GetConclusion() != "failure" {
				continue
			}
			for _, step := range job.Steps {
				if step.GetConclusion() == "failure" {
					failed = append(failed, FailedStep{Job: job.GetName(), Step: step.GetName(), URL: job.GetHTMLURL()})
				}
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return failed, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListReviews returns the submitted reviews of a PR, oldest first.
func (c *Client) ListReviews(ctx context.Context, repoName string, number int) ([]Review, error) {
	owner, name, err := repo.Split(repoName)
	if err != nil {
		return nil, err
	}
	var results []Review
	opts := &gh.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, name, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing reviews: %w", wrapError(err))
		}
		for _, r := range reviews {
			results = append(results, Review{
				ID:    r.GetID(),
				User:  r.GetUser().GetLogin(),
				State: strings.ToLower(r.GetState()),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			return results, nil
		}
		opts.Page = resp.NextPage
	}
}

// ReviewCommentCount counts the inline comments attached to one review.
func (c *Client) ReviewCommentCount(ctx context.Context, repoName string, number int, reviewID int64) (int, error) {
	owner, name, err := repo.Split(repoName)
	if err != nil {
		return 0, err
	}
	count := 0
	opts := &gh.ListOptions{PerPage: 100}
	for {
		comments, resp, err := c.gh.PullRequests.ListReviewComments(ctx, owner, name, number, reviewID, opts)
		if err != nil {
			return 0, fmt.Errorf("listing review comments: %w", wrapError(err))
		}
		count += len(comments)
		if resp == nil || resp.NextPage == 0 {
			return count, nil
		}
		opts.Page = resp.NextPage
	}
}

// GetPullRequest fetches the current state of a PR as a snapshot. The
// single-PR endpoint carries the diff statistics list endpoints omit.
func (c *Client) GetPullRequest(ctx context.Context, repoName string, number int) (models.PRSnapshot, error) {
	owner, name, err := repo.Split(repoName)
	if err != nil {
		return models.PRSnapshot{}, err
	}
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return models.PRSnapshot{}, fmt.Errorf("getting pull request: %w", wrapError(err))
	}
	return PRSnapshot(repoName, pr), nil
}
