package github

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github-issue-mirror/internal/model"
	"github-issue-mirror/internal/ratelimit"
	"github-issue-mirror/internal/retry"
)

// Client is a wrapper around the go-github client. Every call runs through
// the retry executor and every response feeds the rate-limit tracker.
type Client struct {
	gh         *github.Client
	httpClient *http.Client
	tracker    *ratelimit.Tracker
	retryOpts  retry.Options
	logger     *slog.Logger
	apiBase    string
	oauthBase  string
}

// NewClient creates and configures a new Client instance. With a non-empty
// token the underlying http.Client authenticates as `token <pat>`
// (personal-access-token mode); with an empty token requests carry
// per-call credentials instead.
func NewClient(token string, tracker *ratelimit.Tracker, logger *slog.Logger) *Client {
	hc := &http.Client{Timeout: 30 * time.Second}
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		hc = oauth2.NewClient(context.Background(), ts)
	}

	return &Client{
		gh:         github.NewClient(hc),
		httpClient: hc,
		tracker:    tracker,
		logger:     logger,
		oauthBase:  defaultOAuthBase,
	}
}

// SetRetryOptions replaces the retry policy for all outbound calls.
func (c *Client) SetRetryOptions(opts retry.Options) {
	c.retryOpts = opts
}

// OverrideBaseURL points the REST client at a different API root. Used by
// tests and GitHub Enterprise deployments.
func (c *Client) OverrideBaseURL(apiURL string) error {
	gh, err := c.gh.WithEnterpriseURLs(apiURL, apiURL)
	if err != nil {
		return err
	}
	c.gh = gh
	c.apiBase = apiURL
	return nil
}

// OverrideOAuthBase points the device-flow endpoints at a different host.
func (c *Client) OverrideOAuthBase(base string) {
	c.oauthBase = base
}

// userClient builds a REST client authenticated with a caller-supplied
// bearer credential (user access token or App JWT).
func (c *Client) userClient(token string) (*github.Client, error) {
	gh := github.NewClient(&http.Client{Timeout: 30 * time.Second}).WithAuthToken(token)
	if c.apiBase != "" {
		return gh.WithEnterpriseURLs(c.apiBase, c.apiBase)
	}
	return gh, nil
}

func (c *Client) track(resp *github.Response) {
	if resp != nil && c.tracker != nil {
		c.tracker.Update(resp.Header)
	}
}

// GetIssue fetches a single issue by remote number.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*model.RemoteIssue, error) {
	issue, err := retry.Do(ctx, func(ctx context.Context) (*github.Issue, error) {
		is, resp, err := c.gh.Issues.Get(ctx, owner, repo, number)
		c.track(resp)
		return is, err
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}
	return toRemoteIssue(issue), nil
}

// CreateIssue creates a remote issue from a queue payload.
func (c *Client) CreateIssue(ctx context.Context, owner, repo string, payload model.IssuePayload) (*model.RemoteIssue, error) {
	req := &github.IssueRequest{
		Title: github.String(payload.Title),
		Body:  github.String(payload.Body),
	}
	if len(payload.Labels) > 0 {
		labels := payload.Labels
		req.Labels = &labels
	}

	issue, err := retry.Do(ctx, func(ctx context.Context) (*github.Issue, error) {
		is, resp, err := c.gh.Issues.Create(ctx, owner, repo, req)
		c.track(resp)
		return is, err
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}
	return toRemoteIssue(issue), nil
}

// EditIssue overwrites the remote issue with a queue payload.
func (c *Client) EditIssue(ctx context.Context, owner, repo string, number int, payload model.IssuePayload) (*model.RemoteIssue, error) {
	labels := payload.Labels
	if labels == nil {
		labels = []string{}
	}
	req := &github.IssueRequest{
		Title:  github.String(payload.Title),
		Body:   github.String(payload.Body),
		State:  github.String(payload.State),
		Labels: &labels,
	}

	issue, err := retry.Do(ctx, func(ctx context.Context) (*github.Issue, error) {
		is, resp, err := c.gh.Issues.Edit(ctx, owner, repo, number, req)
		c.track(resp)
		return is, err
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}
	return toRemoteIssue(issue), nil
}

// CloseIssue closes the remote issue. The REST API cannot hard-delete
// issues, so queued deletes confirm through this call.
func (c *Client) CloseIssue(ctx context.Context, owner, repo string, number int) (*model.RemoteIssue, error) {
	req := &github.IssueRequest{State: github.String("closed")}

	issue, err := retry.Do(ctx, func(ctx context.Context) (*github.Issue, error) {
		is, resp, err := c.gh.Issues.Edit(ctx, owner, repo, number, req)
		c.track(resp)
		return is, err
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}
	return toRemoteIssue(issue), nil
}

// ListIssuesSince fetches all issues updated since the given time,
// handling pagination transparently. Pull requests are skipped.
func (c *Client) ListIssuesSince(ctx context.Context, owner, repo string, since time.Time) ([]model.RemoteIssue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Since:       since,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []model.RemoteIssue
	for {
		page, err := retry.Do(ctx, func(ctx context.Context) (issuesPage, error) {
			is, resp, err := c.gh.Issues.ListByRepo(ctx, owner, repo, opts)
			c.track(resp)
			return issuesPage{is, resp}, err
		}, c.retryOpts)
		if err != nil {
			return nil, err
		}

		for _, issue := range page.issues {
			if issue.IsPullRequest() {
				continue
			}
			all = append(all, *toRemoteIssue(issue))
		}

		if page.resp.NextPage == 0 {
			break
		}
		opts.Page = page.resp.NextPage
	}
	return all, nil
}

// ListIssueComments fetches all comments for a remote issue.
func (c *Client) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]model.Comment, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []model.Comment
	for {
		page, err := retry.Do(ctx, func(ctx context.Context) (commentsPage, error) {
			cs, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
			c.track(resp)
			return commentsPage{cs, resp}, err
		}, c.retryOpts)
		if err != nil {
			return nil, err
		}

		for _, comment := range page.comments {
			all = append(all, toComment(comment))
		}

		if page.resp.NextPage == 0 {
			break
		}
		opts.Page = page.resp.NextPage
	}
	return all, nil
}

// ListLabels fetches all labels in the repository.
func (c *Client) ListLabels(ctx context.Context, owner, repo string) ([]model.RemoteLabel, error) {
	opts := &github.ListOptions{PerPage: 100}

	var all []model.RemoteLabel
	for {
		page, err := retry.Do(ctx, func(ctx context.Context) (labelsPage, error) {
			ls, resp, err := c.gh.Issues.ListLabels(ctx, owner, repo, opts)
			c.track(resp)
			return labelsPage{ls, resp}, err
		}, c.retryOpts)
		if err != nil {
			return nil, err
		}

		for _, label := range page.labels {
			all = append(all, toRemoteLabel(label))
		}

		if page.resp.NextPage == 0 {
			break
		}
		opts.Page = page.resp.NextPage
	}
	return all, nil
}

// CreateLabel creates a remote label from a queue payload.
func (c *Client) CreateLabel(ctx context.Context, owner, repo string, payload model.LabelPayload) (*model.RemoteLabel, error) {
	req := &github.Label{
		Name:        github.String(payload.Name),
		Color:       github.String(payload.Color),
		Description: payload.Description,
	}

	label, err := retry.Do(ctx, func(ctx context.Context) (*github.Label, error) {
		l, resp, err := c.gh.Issues.CreateLabel(ctx, owner, repo, req)
		c.track(resp)
		return l, err
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}
	remote := toRemoteLabel(label)
	return &remote, nil
}

// EditLabel updates the remote label named payload.Name; payload.NewName
// renames it.
func (c *Client) EditLabel(ctx context.Context, owner, repo string, payload model.LabelPayload) (*model.RemoteLabel, error) {
	name := payload.Name
	if payload.NewName != "" {
		name = payload.NewName
	}
	req := &github.Label{
		Name:        github.String(name),
		Color:       github.String(payload.Color),
		Description: payload.Description,
	}

	label, err := retry.Do(ctx, func(ctx context.Context) (*github.Label, error) {
		l, resp, err := c.gh.Issues.EditLabel(ctx, owner, repo, payload.Name, req)
		c.track(resp)
		return l, err
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}
	remote := toRemoteLabel(label)
	return &remote, nil
}

// DeleteLabel removes the remote label by name.
func (c *Client) DeleteLabel(ctx context.Context, owner, repo, name string) error {
	_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
		resp, err := c.gh.Issues.DeleteLabel(ctx, owner, repo, name)
		c.track(resp)
		return struct{}{}, err
	}, c.retryOpts)
	return err
}

// GetAuthenticatedUser fetches the profile behind a user access token.
func (c *Client) GetAuthenticatedUser(ctx context.Context, token string) (*model.Account, error) {
	gh, err := c.userClient(token)
	if err != nil {
		return nil, err
	}

	user, err := retry.Do(ctx, func(ctx context.Context) (*github.User, error) {
		u, resp, err := gh.Users.Get(ctx, "")
		c.track(resp)
		return u, err
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}
	account := toAccount(user)
	return &account, nil
}

// ListUserInstallations fetches the App installations visible to a user
// access token, handling pagination transparently.
func (c *Client) ListUserInstallations(ctx context.Context, token string) ([]model.Installation, error) {
	gh, err := c.userClient(token)
	if err != nil {
		return nil, err
	}

	opts := &github.ListOptions{PerPage: 100}
	installations := []model.Installation{}
	for {
		page, err := retry.Do(ctx, func(ctx context.Context) (installationsPage, error) {
			ins, resp, err := gh.Apps.ListUserInstallations(ctx, opts)
			c.track(resp)
			return installationsPage{ins, resp}, err
		}, c.retryOpts)
		if err != nil {
			return nil, err
		}

		for _, ins := range page.installations {
			installations = append(installations, toInstallation(ins))
		}

		if page.resp.NextPage == 0 {
			break
		}
		opts.Page = page.resp.NextPage
	}
	return installations, nil
}

// CreateInstallationToken exchanges an App JWT for a short-lived
// installation access token.
func (c *Client) CreateInstallationToken(ctx context.Context, appJWT string, installationID int64) (*model.CachedInstallationToken, error) {
	gh, err := c.userClient(appJWT)
	if err != nil {
		return nil, err
	}

	tok, err := retry.Do(ctx, func(ctx context.Context) (*github.InstallationToken, error) {
		t, resp, err := gh.Apps.CreateInstallationToken(ctx, installationID, nil)
		c.track(resp)
		return t, err
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}

	return &model.CachedInstallationToken{
		InstallationID: installationID,
		Token:          tok.GetToken(),
		ExpiresAt:      tok.GetExpiresAt().Time,
		Permissions:    permissionsMap(tok.GetPermissions()),
	}, nil
}

// page carriers so retry.Do can return results and pagination together.
type issuesPage struct {
	issues []*github.Issue
	resp   *github.Response
}

type commentsPage struct {
	comments []*github.IssueComment
	resp     *github.Response
}

type labelsPage struct {
	labels []*github.Label
	resp   *github.Response
}

type installationsPage struct {
	installations []*github.Installation
	resp          *github.Response
}

// toRemoteIssue translates a github.Issue to our internal model.
func toRemoteIssue(issue *github.Issue) *model.RemoteIssue {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return &model.RemoteIssue{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		State:     issue.GetState(),
		Labels:    labels,
		UpdatedAt: issue.GetUpdatedAt().Time,
	}
}

func toRemoteLabel(label *github.Label) model.RemoteLabel {
	return model.RemoteLabel{
		ID:          label.GetID(),
		Name:        label.GetName(),
		Color:       label.GetColor(),
		Description: label.Description,
	}
}

func toComment(comment *github.IssueComment) model.Comment {
	return model.Comment{
		RemoteID:  comment.GetID(),
		Author:    comment.GetUser().GetLogin(),
		Body:      comment.GetBody(),
		CreatedAt: comment.GetCreatedAt().Time,
		UpdatedAt: comment.GetUpdatedAt().Time,
	}
}

func toAccount(user *github.User) model.Account {
	return model.Account{
		ID:        user.GetID(),
		Login:     user.GetLogin(),
		AvatarURL: user.GetAvatarURL(),
		Type:      user.GetType(),
	}
}

func toInstallation(ins *github.Installation) model.Installation {
	return model.Installation{
		ID: ins.GetID(),
		Account: model.Account{
			ID:        ins.GetAccount().GetID(),
			Login:     ins.GetAccount().GetLogin(),
			AvatarURL: ins.GetAccount().GetAvatarURL(),
			Type:      ins.GetAccount().GetType(),
		},
		RepositorySelection: ins.GetRepositorySelection(),
	}
}

// permissionsMap flattens go-github's typed permission struct into the
// name→level map stored on cached tokens.
func permissionsMap(p *github.InstallationPermissions) map[string]string {
	if p == nil {
		return nil
	}
	m := map[string]string{}
	put := func(name string, v *string) {
		if v != nil {
			m[name] = *v
		}
	}
	put("contents", p.Contents)
	put("issues", p.Issues)
	put("metadata", p.Metadata)
	put("pull_requests", p.PullRequests)
	if len(m) == 0 {
		return nil
	}
	return m
}
