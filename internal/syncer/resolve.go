package syncer

import (
	"context"
	"fmt"

	"github-issue-mirror/internal/model"
)

// Resolve settles a suspended conflict and lifts the replay suspension.
// All strategies first drop the entity's stale queue entries; the chosen
// content then re-enters the queue where a push is still needed.
func (e *Engine) Resolve(ctx context.Context, issueID string, resolution model.Resolution, merged *model.MergedFields) (*model.Issue, error) {
	conflict, err := e.store.GetConflict(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if conflict == nil {
		return nil, fmt.Errorf("issue %s has no recorded conflict", issueID)
	}

	issue, err := e.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, fmt.Errorf("issue %s not found", issueID)
	}

	if err := e.store.DeleteEntriesForEntity(ctx, model.EntityIssue, issueID); err != nil {
		return nil, err
	}

	switch resolution {
	case model.ResolveLocal:
		// Keep local content; advance the baseline past the remote edit
		// and clear the checksum so the next replay does not re-flag.
		issue.RemoteUpdatedAt = &conflict.Remote.UpdatedAt
		issue.BodyChecksum = nil
		issue.SyncStatus = model.StatusPendingUpdate
		issue.LocalUpdatedAt = e.now()
		if err := e.store.UpdateIssue(ctx, issue); err != nil {
			return nil, err
		}
		if err := e.enqueueIssue(ctx, issue, model.OpUpdate); err != nil {
			return nil, err
		}

	case model.ResolveRemote:
		// Adopt the remote version; nothing left to push.
		checksum := Checksum(conflict.Remote.Body)
		issue.Title = conflict.Remote.Title
		issue.Body = conflict.Remote.Body
		issue.RemoteUpdatedAt = &conflict.Remote.UpdatedAt
		issue.BodyChecksum = &checksum
		issue.SyncStatus = model.StatusSynced
		issue.LocalUpdatedAt = e.now()
		if err := e.store.UpdateIssue(ctx, issue); err != nil {
			return nil, err
		}

	case model.ResolveMerged:
		if merged == nil {
			return nil, fmt.Errorf("merged resolution requires combined content")
		}
		issue.Title = merged.Title
		issue.Body = merged.Body
		if merged.Labels != nil {
			issue.Labels = merged.Labels
		}
		issue.RemoteUpdatedAt = &conflict.Remote.UpdatedAt
		issue.BodyChecksum = nil
		issue.SyncStatus = model.StatusPendingUpdate
		issue.LocalUpdatedAt = e.now()
		if err := e.store.UpdateIssue(ctx, issue); err != nil {
			return nil, err
		}
		if err := e.enqueueIssue(ctx, issue, model.OpUpdate); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown resolution %q", resolution)
	}

	if err := e.store.DeleteConflict(ctx, issueID); err != nil {
		return nil, err
	}
	e.logger.Info("Conflict resolved", "issue_id", issueID, "resolution", string(resolution))
	return issue, nil
}
