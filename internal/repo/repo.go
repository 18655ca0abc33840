// Package repo surfaces GitHub pull-request data for a drone's
// attached repository and applies patches to its working tree.
package repo

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// originRe extracts owner/name from the common GitHub remote forms:
// git@github.com:owner/name.git and https://github.com/owner/name(.git).
var originRe = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/\s]+?)(?:\.git)?$`)

// gitTimeout bounds local git invocations.
const gitTimeout = 15 * time.Second

// PullRequest is the subset of PR data the dashboard renders.
type PullRequest struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Author    string    `json:"author"`
	Branch    string    `json:"branch"`
	URL       string    `json:"url"`
	Draft     bool      `json:"draft"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChangedFile is one file touched by a pull request.
type ChangedFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// Client wraps the GitHub API for one repository.
type Client struct {
	gh    *github.Client
	owner string
	name  string
}

// NewClient builds a Client for the repository that repoPath's origin
// remote points at. token may be empty for public repositories.
func NewClient(ctx context.Context, repoPath, token string) (*Client, error) {
	origin, err := originURL(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	owner, name, err := ParseOrigin(origin)
	if err != nil {
		return nil, err
	}

	httpClient := oauth2.NewClient(ctx, nil)
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return &Client{gh: github.NewClient(httpClient), owner: owner, name: name}, nil
}

// Owner returns the repository owner discovered from the origin remote.
func (c *Client) Owner() string { return c.owner }

// Name returns the repository name discovered from the origin remote.
func (c *Client) Name() string { return c.name }

// PullRequests lists pull requests. state is "open", "closed", or
// "all"; empty means open.
func (c *Client) PullRequests(ctx context.Context, state string) ([]PullRequest, error) {
	if state == "" {
		state = "open"
	}
	prs, _, err := c.gh.PullRequests.List(ctx, c.owner, c.name, &github.PullRequestListOptions{
		State:       state,
		ListOptions: github.ListOptions{PerPage: 50},
	})
	if err != nil {
		return nil, fmt.Errorf("repo: list pull requests for %s/%s: %w", c.owner, c.name, err)
	}

	out := make([]PullRequest, 0, len(prs))
	for _, pr := range prs {
		out = append(out, PullRequest{
			Number:    pr.GetNumber(),
			Title:     pr.GetTitle(),
			State:     pr.GetState(),
			Author:    pr.GetUser().GetLogin(),
			Branch:    pr.GetHead().GetRef(),
			URL:       pr.GetHTMLURL(),
			Draft:     pr.GetDraft(),
			CreatedAt: pr.GetCreatedAt().Time,
			UpdatedAt: pr.GetUpdatedAt().Time,
		})
	}
	return out, nil
}

// Changes lists the files touched by one pull request.
func (c *Client) Changes(ctx context.Context, number int) ([]ChangedFile, error) {
	files, _, err := c.gh.PullRequests.ListFiles(ctx, c.owner, c.name, number, &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("repo: list files for %s/%s#%d: %w", c.owner, c.name, number, err)
	}

	out := make([]ChangedFile, 0, len(files))
	for _, f := range files {
		out = append(out, ChangedFile{
			Filename:  f.GetFilename(),
			Status:    f.GetStatus(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
			Patch:     f.GetPatch(),
		})
	}
	return out, nil
}

// originURL reads the origin remote of a local working tree.
func originURL(ctx context.Context, repoPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "remote", "get-url", "origin")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("repo: read origin of %s: %w", repoPath, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ParseOrigin extracts owner and name from a GitHub remote URL.
func ParseOrigin(origin string) (owner, name string, err error) {
	m := originRe.FindStringSubmatch(strings.TrimSpace(origin))
	if m == nil {
		return "", "", fmt.Errorf("repo: origin %q is not a GitHub remote", origin)
	}
	return m[1], m[2], nil
}
