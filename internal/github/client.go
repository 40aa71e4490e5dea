// Package github opens pull requests for repaired infrastructure branches.
package github

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v56/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrInvalidRepo is returned when a repository reference cannot be parsed.
var ErrInvalidRepo = errors.New("invalid repository reference")

// Client wraps the GitHub API for one repository.
type Client struct {
	client *github.Client
	owner  string
	repo   string
	logger *zap.Logger
}

// NewClient creates a Client. An empty token gives unauthenticated access,
// which cannot open pull requests but is enough for reads.
func NewClient(token, owner, repo string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	var client *github.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(context.Background(), ts)
		client = github.NewClient(tc)
	} else {
		client = github.NewClient(nil)
	}

	return &Client{
		client: client,
		owner:  owner,
		repo:   repo,
		logger: logger,
	}
}

// SetBaseURL points the client at a GitHub Enterprise API endpoint.
func (c *Client) SetBaseURL(baseURL string) error {
	client, err := c.client.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return fmt.Errorf("invalid GitHub base URL: %w", err)
	}
	c.client = client
	return nil
}

// Repo returns "owner/name".
func (c *Client) Repo() string {
	return c.owner + "/" + c.repo
}

// OpenPullRequest opens a pull request from head into base and returns its
// URL. An already open pull request for the same head is reused.
func (c *Client) OpenPullRequest(ctx context.Context, title, body, head, base string) (string, error) {
	existing, _, err := c.client.PullRequests.List(ctx, c.owner, c.repo, &github.PullRequestListOptions{
		State: "open",
		Head:  c.owner + ":" + head,
		Base:  base,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list pull requests: %w", err)
	}
	if len(existing) > 0 {
		url := existing[0].GetHTMLURL()
		c.logger.Info("pull request already open",
			zap.String("repo", c.Repo()),
			zap.Int("number", existing[0].GetNumber()),
			zap.String("url", url))
		return url, nil
	}

	pr, _, err := c.client.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title:               github.String(title),
		Head:                github.String(head),
		Base:                github.String(base),
		Body:                github.String(body),
		MaintainerCanModify: github.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create pull request: %w", err)
	}

	c.logger.Info("opened pull request",
		zap.String("repo", c.Repo()),
		zap.Int("number", pr.GetNumber()),
		zap.String("url", pr.GetHTMLURL()))
	return pr.GetHTMLURL(), nil
}

// ParseRepo extracts owner and name from "owner/name", an HTTPS clone URL
// or an scp-style SSH remote.
func ParseRepo(ref string) (owner, name string, err error) {
	s := strings.TrimSpace(ref)
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	switch {
	case strings.HasPrefix(s, "git@"):
		_, s, _ = strings.Cut(s, ":")
	case strings.Contains(s, "://"):
		_, rest, _ := strings.Cut(s, "://")
		_, s, _ = strings.Cut(rest, "/")
	}

	parts := strings.Split(s, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepo, ref)
	}
	owner, name = parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || name == "" || strings.Contains(owner, "@") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepo, ref)
	}
	return owner, name, nil
}
