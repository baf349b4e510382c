package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github-issue-mirror/internal/model"
)

// PullStats summarizes one pull cycle.
type PullStats struct {
	Fetched int
	Created int
	Updated int
	Skipped int
}

// Pull refreshes the mirror from GitHub. Only issues changed since the
// last pull watermark are fetched; rows with pending local mutations are
// left untouched so queued edits are never clobbered, and divergence for
// those rows is caught at replay time instead.
func (e *Engine) Pull(ctx context.Context) (*PullStats, error) {
	since, err := e.lastPull(ctx)
	if err != nil {
		return nil, err
	}
	started := e.now()

	remotes, err := e.ghClient.ListIssuesSince(ctx, e.repo.Owner, e.repo.Name, since)
	if err != nil {
		return nil, err
	}

	stats := &PullStats{Fetched: len(remotes)}
	for i := range remotes {
		remote := &remotes[i]
		local, err := e.store.GetIssueByNumber(ctx, remote.Number)
		if err != nil {
			return stats, err
		}

		switch {
		case local == nil:
			if err := e.adoptRemoteIssue(ctx, remote); err != nil {
				return stats, err
			}
			stats.Created++
		case local.SyncStatus == model.StatusSynced:
			if err := e.refreshLocalIssue(ctx, local, remote); err != nil {
				return stats, err
			}
			stats.Updated++
		default:
			stats.Skipped++
			continue
		}

		if err := e.pullComments(ctx, remote.Number); err != nil {
			return stats, err
		}
	}

	if err := e.pullLabels(ctx); err != nil {
		return stats, err
	}
	if err := e.store.RecomputeLabelCounts(ctx); err != nil {
		return stats, err
	}

	if err := e.store.SetSetting(ctx, lastPullKey, started.UTC().Format(time.RFC3339)); err != nil {
		return stats, err
	}

	e.logger.Info("Pull complete", "fetched", stats.Fetched,
		"created", stats.Created, "updated", stats.Updated, "skipped", stats.Skipped)
	return stats, nil
}

func (e *Engine) lastPull(ctx context.Context) (time.Time, error) {
	raw, err := e.store.GetSetting(ctx, lastPullKey)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// A corrupt watermark degrades to a full pull.
		e.logger.Warn("Ignoring malformed pull watermark", "value", raw)
		return time.Time{}, nil
	}
	return since, nil
}

func (e *Engine) adoptRemoteIssue(ctx context.Context, remote *model.RemoteIssue) error {
	checksum := Checksum(remote.Body)
	number := remote.Number
	updatedAt := remote.UpdatedAt
	return e.store.CreateIssue(ctx, &model.Issue{
		ID:              uuid.NewString(),
		Number:          &number,
		Title:           remote.Title,
		Body:            remote.Body,
		State:           remote.State,
		Labels:          remote.Labels,
		SyncStatus:      model.StatusSynced,
		LocalUpdatedAt:  e.now(),
		RemoteUpdatedAt: &updatedAt,
		BodyChecksum:    &checksum,
		CreatedAt:       e.now(),
	})
}

func (e *Engine) refreshLocalIssue(ctx context.Context, local *model.Issue, remote *model.RemoteIssue) error {
	checksum := Checksum(remote.Body)
	updatedAt := remote.UpdatedAt
	local.Title = remote.Title
	local.Body = remote.Body
	local.State = remote.State
	local.Labels = remote.Labels
	local.RemoteUpdatedAt = &updatedAt
	local.BodyChecksum = &checksum
	local.LocalUpdatedAt = e.now()
	return e.store.UpdateIssue(ctx, local)
}

func (e *Engine) pullComments(ctx context.Context, number int) error {
	issue, err := e.store.GetIssueByNumber(ctx, number)
	if err != nil || issue == nil {
		return err
	}

	comments, err := e.ghClient.ListIssueComments(ctx, e.repo.Owner, e.repo.Name, number)
	if err != nil {
		return err
	}
	for i := range comments {
		comments[i].IssueID = issue.ID
		if err := e.store.SaveComment(ctx, &comments[i]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) pullLabels(ctx context.Context) error {
	remotes, err := e.ghClient.ListLabels(ctx, e.repo.Owner, e.repo.Name)
	if err != nil {
		return err
	}
	for i := range remotes {
		if err := e.store.UpsertRemoteLabel(ctx, uuid.NewString(), remotes[i]); err != nil {
			return err
		}
	}
	return nil
}
