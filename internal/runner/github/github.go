// Package github implements the runner.Registry interface on top of the
// GitHub REST API for repository-level self-hosted runners.
//
// The client authenticates with a token and never retries on its own.
// Transport failures (network, auth, rate limit, 4xx/5xx) are returned
// to the caller wrapped with the operation that failed.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v66/github"
	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/terrpan/runnerctl/internal/runner"
)

// pageSize is the largest page the runners endpoint accepts.
const pageSize = 100

// Config holds the settings needed to reach the GitHub API.
type Config struct {
	// Token is a personal access token or installation token with
	// administration rights on the repository.
	Token string

	// APIURL is the REST base URL for GitHub Enterprise Server
	// (e.g. https://ghe.example.com/api/v3/).  Empty means github.com.
	APIURL string
}

// actionsAPI is the subset of the go-github Actions service the client
// uses.  It exists so tests can substitute a fake.
type actionsAPI interface {
	ListRunners(ctx context.Context, owner, repo string, opts *gh.ListRunnersOptions) (*gh.Runners, *gh.Response, error)
	CreateRegistrationToken(ctx context.Context, owner, repo string) (*gh.RegistrationToken, *gh.Response, error)
	RemoveRunner(ctx context.Context, owner, repo string, runnerID int64) (*gh.Response, error)
}

// Client talks to the GitHub runners API.
type Client struct {
	actions actionsAPI
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Compile-time check that Client satisfies the runner.Registry interface.
var _ runner.Registry = (*Client)(nil)

// New creates a Client.  Requests go through a pooled cleanhttp
// transport instrumented with otelhttp.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	transport := otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())
	httpClient := &http.Client{Transport: transport}

	client := gh.NewClient(httpClient).WithAuthToken(cfg.Token)
	if cfg.APIURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.APIURL, cfg.APIURL)
		if err != nil {
			return nil, fmt.Errorf("github enterprise url %s: %w", cfg.APIURL, err)
		}
	}

	return newClient(client.Actions, logger), nil
}

func newClient(actions actionsAPI, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		actions: actions,
		logger:  logger,
		tracer:  otel.Tracer("runnerctl/registry/github"),
	}
}

// ListRunners returns every runner registered to repo, walking all pages.
func (c *Client) ListRunners(ctx context.Context, repo runner.Repository) ([]runner.Runner, error) {
	ctx, span := c.tracer.Start(ctx, "registry.github.ListRunners")
	defer span.End()

	span.SetAttributes(attribute.String("github.repository", repo.String()))

	opts := &gh.ListRunnersOptions{
		ListOptions: gh.ListOptions{PerPage: pageSize},
	}

	var runners []runner.Runner
	for {
		page, resp, err := c.actions.ListRunners(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list runners")
			return nil, fmt.Errorf("list runners for %s (page %d): %w", repo, max(opts.Page, 1), err)
		}
		for _, r := range page.Runners {
			runners = append(runners, toRunner(r))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	span.SetAttributes(attribute.Int("github.runners_count", len(runners)))
	c.logger.Debug("listed runners",
		slog.String("repository", repo.String()),
		slog.Int("count", len(runners)),
	)
	return runners, nil
}

// CreateRegistrationToken mints a registration token for repo.  A failure
// is logged and returned unchanged in meaning; there is no retry.
func (c *Client) CreateRegistrationToken(ctx context.Context, repo runner.Repository) (*runner.RegistrationToken, error) {
	ctx, span := c.tracer.Start(ctx, "registry.github.CreateRegistrationToken")
	defer span.End()

	span.SetAttributes(attribute.String("github.repository", repo.String()))

	tok, _, err := c.actions.CreateRegistrationToken(ctx, repo.Owner, repo.Name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create registration token")
		c.logger.Error("registration token request failed",
			slog.String("repository", repo.String()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("create registration token for %s: %w", repo, err)
	}

	c.logger.Info("registration token received", slog.String("repository", repo.String()))

	return &runner.RegistrationToken{
		Token:     tok.GetToken(),
		ExpiresAt: tok.GetExpiresAt().Time,
	}, nil
}

// RemoveRunner deletes the runner with the given id from repo.
func (c *Client) RemoveRunner(ctx context.Context, repo runner.Repository, id int64) error {
	ctx, span := c.tracer.Start(ctx, "registry.github.RemoveRunner")
	defer span.End()

	span.SetAttributes(
		attribute.String("github.repository", repo.String()),
		attribute.Int64("runner.id", id),
	)

	if _, err := c.actions.RemoveRunner(ctx, repo.Owner, repo.Name, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remove runner")
		return fmt.Errorf("remove runner %d from %s: %w", id, repo, err)
	}
	return nil
}

func toRunner(r *gh.Runner) runner.Runner {
	labels := make([]string, 0, len(r.Labels))
	for _, l := range r.Labels {
		labels = append(labels, l.GetName())
	}
	return runner.Runner{
		ID:     r.GetID(),
		Name:   r.GetName(),
		OS:     r.GetOS(),
		Status: runner.Status(r.GetStatus()),
		Busy:   r.GetBusy(),
		Labels: labels,
	}
}

// ParseRepositoryURL splits a repository URL such as
// https://github.com/org/repo into its owner and name.  For hosts other
// than github.com it also returns the GitHub Enterprise Server API base
// URL.
func ParseRepositoryURL(raw string) (runner.Repository, string, error) {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return runner.Repository{}, "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return runner.Repository{}, "", fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return runner.Repository{}, "", fmt.Errorf("invalid URL %q: expected <host>/<owner>/<repo>", raw)
	}
	repo := runner.Repository{
		Owner: parts[0],
		Name:  strings.TrimSuffix(parts[1], ".git"),
	}

	var apiURL string
	if !strings.EqualFold(u.Host, "github.com") && !strings.EqualFold(u.Host, "www.github.com") {
		apiURL = fmt.Sprintf("%s://%s/api/v3/", u.Scheme, u.Host)
	}
	return repo, apiURL, nil
}
