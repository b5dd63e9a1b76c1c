package github

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/terrpan/runnerctl/internal/runner"
)

// ---------------------------------------------------------------------------
// Mock actions service (satisfies actionsAPI)
// ---------------------------------------------------------------------------

type removeCall struct {
	owner, repo string
	id          int64
}

type mockActions struct {
	mu sync.Mutex

	pages     [][]*gh.Runner // one entry per page, served in order
	listPages []int          // page numbers requested
	listErr   error

	token    *gh.RegistrationToken
	tokenErr error

	removeCalls []removeCall
	removeErr   error
}

func (m *mockActions) ListRunners(_ context.Context, _, _ string, opts *gh.ListRunnersOptions) (*gh.Runners, *gh.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page := max(opts.Page, 1)
	m.listPages = append(m.listPages, page)
	if m.listErr != nil {
		return nil, nil, m.listErr
	}

	resp := &gh.Response{}
	if page < len(m.pages) {
		resp.NextPage = page + 1
	}
	var runners []*gh.Runner
	if page <= len(m.pages) {
		runners = m.pages[page-1]
	}
	return &gh.Runners{TotalCount: len(runners), Runners: runners}, resp, nil
}

func (m *mockActions) CreateRegistrationToken(_ context.Context, _, _ string) (*gh.RegistrationToken, *gh.Response, error) {
	if m.tokenErr != nil {
		return nil, nil, m.tokenErr
	}
	return m.token, &gh.Response{}, nil
}

func (m *mockActions) RemoveRunner(_ context.Context, owner, repo string, id int64) (*gh.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeCalls = append(m.removeCalls, removeCall{owner: owner, repo: repo, id: id})
	if m.removeErr != nil {
		return nil, m.removeErr
	}
	return &gh.Response{}, nil
}

func ghRunner(id int64, name, status string, labels ...string) *gh.Runner {
	r := &gh.Runner{
		ID:     gh.Int64(id),
		Name:   gh.String(name),
		OS:     gh.String("linux"),
		Status: gh.String(status),
		Busy:   gh.Bool(false),
	}
	for _, l := range labels {
		r.Labels = append(r.Labels, &gh.RunnerLabels{Name: gh.String(l)})
	}
	return r
}

// ---------------------------------------------------------------------------
// Test suite
// ---------------------------------------------------------------------------

type GitHubClientSuite struct {
	suite.Suite
	ctx     context.Context
	actions *mockActions
	repo    runner.Repository
}

func (s *GitHubClientSuite) SetupTest() {
	s.ctx = context.Background()
	s.actions = &mockActions{}
	s.repo = runner.Repository{Owner: "my-org", Name: "my-repo"}
}

func (s *GitHubClientSuite) newClient() *Client {
	return newClient(s.actions, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGitHubClientSuite(t *testing.T) {
	suite.Run(t, new(GitHubClientSuite))
}

// ---------------------------------------------------------------------------
// ListRunners
// ---------------------------------------------------------------------------

func (s *GitHubClientSuite) TestListRunners_SinglePage() {
	s.actions.pages = [][]*gh.Runner{{
		ghRunner(1, "runner-a", "online", "self-hosted", "ci-worker-42"),
	}}

	runners, err := s.newClient().ListRunners(s.ctx, s.repo)
	require.NoError(s.T(), err)
	require.Len(s.T(), runners, 1)

	assert.Equal(s.T(), runner.Runner{
		ID:     1,
		Name:   "runner-a",
		OS:     "linux",
		Status: runner.StatusOnline,
		Labels: []string{"self-hosted", "ci-worker-42"},
	}, runners[0])
	assert.Equal(s.T(), []int{1}, s.actions.listPages)
}

func (s *GitHubClientSuite) TestListRunners_FollowsPagination() {
	s.actions.pages = [][]*gh.Runner{
		{ghRunner(1, "a", "online"), ghRunner(2, "b", "offline")},
		{ghRunner(3, "c", "online")},
		{ghRunner(4, "d", "offline")},
	}

	runners, err := s.newClient().ListRunners(s.ctx, s.repo)
	require.NoError(s.T(), err)

	ids := make([]int64, len(runners))
	for i, r := range runners {
		ids[i] = r.ID
	}
	assert.Equal(s.T(), []int64{1, 2, 3, 4}, ids, "API order must be preserved across pages")
	assert.Equal(s.T(), []int{1, 2, 3}, s.actions.listPages)
}

func (s *GitHubClientSuite) TestListRunners_Empty() {
	runners, err := s.newClient().ListRunners(s.ctx, s.repo)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), runners)
}

func (s *GitHubClientSuite) TestListRunners_Error() {
	s.actions.listErr = errors.New("401 Bad credentials")

	runners, err := s.newClient().ListRunners(s.ctx, s.repo)
	require.Error(s.T(), err)
	assert.Nil(s.T(), runners)
	assert.Contains(s.T(), err.Error(), "my-org/my-repo")
	assert.ErrorIs(s.T(), err, s.actions.listErr)
}

// ---------------------------------------------------------------------------
// CreateRegistrationToken
// ---------------------------------------------------------------------------

func (s *GitHubClientSuite) TestCreateRegistrationToken_Success() {
	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.actions.token = &gh.RegistrationToken{
		Token:     gh.String("AABBCC"),
		ExpiresAt: &gh.Timestamp{Time: expires},
	}

	tok, err := s.newClient().CreateRegistrationToken(s.ctx, s.repo)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "AABBCC", tok.Token)
	assert.True(s.T(), expires.Equal(tok.ExpiresAt))
}

func (s *GitHubClientSuite) TestCreateRegistrationToken_Error() {
	s.actions.tokenErr = errors.New("403 Resource not accessible")

	tok, err := s.newClient().CreateRegistrationToken(s.ctx, s.repo)
	require.Error(s.T(), err)
	assert.Nil(s.T(), tok)
	assert.ErrorIs(s.T(), err, s.actions.tokenErr)
}

// ---------------------------------------------------------------------------
// RemoveRunner
// ---------------------------------------------------------------------------

func (s *GitHubClientSuite) TestRemoveRunner_Success() {
	err := s.newClient().RemoveRunner(s.ctx, s.repo, 42)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), []removeCall{{owner: "my-org", repo: "my-repo", id: 42}}, s.actions.removeCalls)
}

func (s *GitHubClientSuite) TestRemoveRunner_Error() {
	s.actions.removeErr = errors.New("500 Internal Server Error")

	err := s.newClient().RemoveRunner(s.ctx, s.repo, 42)
	require.Error(s.T(), err)
	assert.Contains(s.T(), err.Error(), "42")
	assert.ErrorIs(s.T(), err, s.actions.removeErr)
}

// ---------------------------------------------------------------------------
// ParseRepositoryURL
// ---------------------------------------------------------------------------

func TestParseRepositoryURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		repo    runner.Repository
		apiURL  string
		wantErr bool
	}{
		{"github.com", "https://github.com/my-org/my-repo", runner.Repository{Owner: "my-org", Name: "my-repo"}, "", false},
		{"trailing slash and .git", "https://github.com/my-org/my-repo.git/", runner.Repository{Owner: "my-org", Name: "my-repo"}, "", false},
		{"enterprise", "https://ghe.example.com/team/app", runner.Repository{Owner: "team", Name: "app"}, "https://ghe.example.com/api/v3/", false},
		{"org only", "https://github.com/my-org", runner.Repository{}, "", true},
		{"too deep", "https://github.com/a/b/c", runner.Repository{}, "", true},
		{"not a url", "not-a-url", runner.Repository{}, "", true},
		{"bad scheme", "ftp://github.com/a/b", runner.Repository{}, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, apiURL, err := ParseRepositoryURL(tc.raw)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.repo, repo)
			assert.Equal(t, tc.apiURL, apiURL)
		})
	}
}
