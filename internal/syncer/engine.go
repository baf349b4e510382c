// Package syncer makes local mutations eventually consistent with GitHub
// while tolerating offline periods and concurrent remote edits. Every
// local create/update/delete lands in a durable queue; drain cycles
// replay entries in order, detect divergence by checksum and suspend
// conflicted entities until a resolution is supplied.
package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	gogithub "github.com/google/go-github/v62/github"
	"github.com/google/uuid"

	apperrors "github-issue-mirror/internal/errors"
	gh "github-issue-mirror/internal/github"
	"github-issue-mirror/internal/model"
	"github-issue-mirror/internal/ratelimit"
	"github-issue-mirror/internal/retry"
	"github-issue-mirror/internal/store"
)

const (
	// defaultRetryDelay seeds the per-entry backoff when the API gives
	// no reset hint.
	defaultRetryDelay = 30 * time.Second
	// maxRetryDelay caps the per-entry backoff.
	maxRetryDelay = 15 * time.Minute

	lastPullKey = "last_pull"
)

// ErrConflictPending is returned when a mutation targets an entity whose
// replay is suspended awaiting conflict resolution.
var ErrConflictPending = errors.New("entity has an unresolved conflict")

// errConflictDetected signals that a replay attempt found divergence and
// suspended the entity; the queue entry is retained.
var errConflictDetected = errors.New("conflict detected")

var colorPattern = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)

// RepoIdentifier holds the owner and name of a repository.
type RepoIdentifier struct {
	Owner string
	Name  string
}

// ParseRepo parses an 'owner/name' repository string.
func ParseRepo(repo string) (RepoIdentifier, error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepoIdentifier{}, &apperrors.ErrInvalidRepoFormat{Repo: repo}
	}
	return RepoIdentifier{Owner: parts[0], Name: parts[1]}, nil
}

// Checksum is the content hash recorded at last sync and compared against
// current content to detect divergence without full diffing.
func Checksum(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Engine orchestrates the durable queue, replay and conflict handling for
// one repository.
type Engine struct {
	store     *store.Store
	ghClient  *gh.Client
	tracker   *ratelimit.Tracker
	repo      RepoIdentifier
	retryOpts retry.Options
	logger    *slog.Logger
	now       func() time.Time

	// drainMu serializes drain cycles so syncStatus transitions have a
	// single source of truth.
	drainMu sync.Mutex
}

// NewEngine creates an engine for the given repository.
func NewEngine(st *store.Store, client *gh.Client, tracker *ratelimit.Tracker, repo RepoIdentifier, logger *slog.Logger) *Engine {
	return &Engine{
		store:    st,
		ghClient: client,
		tracker:  tracker,
		repo:     repo,
		logger:   logger,
		now:      time.Now,
	}
}

// SetRetryOptions replaces the retry policy used for replay calls.
func (e *Engine) SetRetryOptions(opts retry.Options) {
	e.retryOpts = opts
}

// --- local mutations ---

// CreateIssue records a new local issue and queues its remote creation.
func (e *Engine) CreateIssue(ctx context.Context, title, body string, labels []string) (*model.Issue, error) {
	if title == "" {
		return nil, fmt.Errorf("issue title is required")
	}

	now := e.now()
	issue := &model.Issue{
		ID:             uuid.NewString(),
		Title:          title,
		Body:           body,
		State:          "open",
		Labels:         labels,
		SyncStatus:     model.StatusPendingCreate,
		LocalUpdatedAt: now,
		CreatedAt:      now,
	}
	if err := e.store.CreateIssue(ctx, issue); err != nil {
		return nil, err
	}

	if err := e.enqueueIssue(ctx, issue, model.OpCreate); err != nil {
		return nil, err
	}
	return issue, nil
}

// IssueUpdate is a partial local edit; nil fields are left unchanged.
type IssueUpdate struct {
	Title  *string
	Body   *string
	State  *string
	Labels []string
}

// UpdateIssue applies a local edit and queues the remote update. Entities
// awaiting conflict resolution reject further edits.
func (e *Engine) UpdateIssue(ctx context.Context, id string, update IssueUpdate) (*model.Issue, error) {
	issue, err := e.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, fmt.Errorf("issue %s not found", id)
	}
	if issue.SyncStatus == model.StatusConflict {
		return nil, ErrConflictPending
	}

	if update.Title != nil {
		issue.Title = *update.Title
	}
	if update.Body != nil {
		issue.Body = *update.Body
	}
	if update.State != nil {
		issue.State = *update.State
	}
	if update.Labels != nil {
		issue.Labels = update.Labels
	}
	issue.LocalUpdatedAt = e.now()
	if issue.SyncStatus != model.StatusPendingCreate {
		issue.SyncStatus = model.StatusPendingUpdate
	}

	if err := e.store.UpdateIssue(ctx, issue); err != nil {
		return nil, err
	}
	if err := e.enqueueIssue(ctx, issue, model.OpUpdate); err != nil {
		return nil, err
	}
	return issue, nil
}

// DeleteIssue queues the issue's removal. The row survives until the
// remote confirms; only then is it physically deleted.
func (e *Engine) DeleteIssue(ctx context.Context, id string) error {
	issue, err := e.store.GetIssue(ctx, id)
	if err != nil {
		return err
	}
	if issue == nil {
		return fmt.Errorf("issue %s not found", id)
	}
	if issue.SyncStatus == model.StatusConflict {
		return ErrConflictPending
	}

	issue.SyncStatus = model.StatusPendingDelete
	issue.LocalUpdatedAt = e.now()
	if err := e.store.UpdateIssue(ctx, issue); err != nil {
		return err
	}
	return e.enqueueIssue(ctx, issue, model.OpDelete)
}

func (e *Engine) enqueueIssue(ctx context.Context, issue *model.Issue, op model.Operation) error {
	payload, err := json.Marshal(model.IssuePayload{
		Title:  issue.Title,
		Body:   issue.Body,
		State:  issue.State,
		Labels: issue.Labels,
	})
	if err != nil {
		return fmt.Errorf("failed to encode issue payload: %w", err)
	}

	_, err = e.store.Enqueue(ctx, &model.SyncQueueEntry{
		EntityType: model.EntityIssue,
		EntityID:   issue.ID,
		Operation:  op,
		Payload:    payload,
		CreatedAt:  e.now(),
	})
	return err
}

// CreateLabel records a new label and queues its remote creation.
func (e *Engine) CreateLabel(ctx context.Context, name, color string, description *string) (*model.Label, error) {
	if name == "" {
		return nil, fmt.Errorf("label name is required")
	}
	if !colorPattern.MatchString(color) {
		return nil, fmt.Errorf("label color %q is not a 6-hex-digit string", color)
	}
	if existing, err := e.store.GetLabelByName(ctx, name); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("label %q already exists", name)
	}

	label := &model.Label{
		ID:          uuid.NewString(),
		Name:        name,
		Color:       color,
		Description: description,
	}
	if err := e.store.CreateLabel(ctx, label); err != nil {
		return nil, err
	}

	if err := e.enqueueLabel(ctx, label.ID, model.OpCreate, model.LabelPayload{
		Name:        name,
		Color:       color,
		Description: description,
	}); err != nil {
		return nil, err
	}
	return label, nil
}

// LabelUpdate is a partial label edit; nil fields are left unchanged.
type LabelUpdate struct {
	Name        *string
	Color       *string
	Description *string
}

// UpdateLabel applies a local edit and queues the remote update, keeping
// the pre-rename name in the payload so the remote can be addressed.
func (e *Engine) UpdateLabel(ctx context.Context, id string, update LabelUpdate) (*model.Label, error) {
	label, err := e.store.GetLabel(ctx, id)
	if err != nil {
		return nil, err
	}
	if label == nil {
		return nil, fmt.Errorf("label %s not found", id)
	}

	payload := model.LabelPayload{Name: label.Name}
	if update.Name != nil && *update.Name != label.Name {
		payload.NewName = *update.Name
		label.Name = *update.Name
	}
	if update.Color != nil {
		if !colorPattern.MatchString(*update.Color) {
			return nil, fmt.Errorf("label color %q is not a 6-hex-digit string", *update.Color)
		}
		label.Color = *update.Color
	}
	if update.Description != nil {
		label.Description = update.Description
	}
	payload.Color = label.Color
	payload.Description = label.Description

	if err := e.store.UpdateLabel(ctx, label); err != nil {
		return nil, err
	}
	if err := e.enqueueLabel(ctx, label.ID, model.OpUpdate, payload); err != nil {
		return nil, err
	}
	return label, nil
}

// DeleteLabel queues the label's removal.
func (e *Engine) DeleteLabel(ctx context.Context, id string) error {
	label, err := e.store.GetLabel(ctx, id)
	if err != nil {
		return err
	}
	if label == nil {
		return fmt.Errorf("label %s not found", id)
	}

	return e.enqueueLabel(ctx, id, model.OpDelete, model.LabelPayload{
		Name:  label.Name,
		Color: label.Color,
	})
}

func (e *Engine) enqueueLabel(ctx context.Context, id string, op model.Operation, payload model.LabelPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode label payload: %w", err)
	}

	_, err = e.store.Enqueue(ctx, &model.SyncQueueEntry{
		EntityType: model.EntityLabel,
		EntityID:   id,
		Operation:  op,
		Payload:    raw,
		CreatedAt:  e.now(),
	})
	return err
}

// --- drain ---

// DrainStats summarizes one drain cycle.
type DrainStats struct {
	Processed int
	Deferred  int
	Conflicts int
	Skipped   int
}

// Drain replays all due queue entries in enqueue order. Cycles are
// serialized; a failing entry defers itself without blocking the rest of
// the queue.
func (e *Engine) Drain(ctx context.Context) (*DrainStats, error) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	entries, err := e.store.DueEntries(ctx, e.now())
	if err != nil {
		return nil, err
	}

	stats := &DrainStats{}
	labelsTouched := false
	for i := range entries {
		entry := &entries[i]
		if ctx.Err() != nil {
			break
		}

		suspended, err := e.entitySuspended(ctx, entry)
		if err != nil {
			return stats, err
		}
		if suspended {
			stats.Skipped++
			continue
		}

		if !e.tracker.CanMakeRequest() {
			// Budget exhausted; leave remaining entries for the next
			// cycle after the reset.
			stats.Skipped += len(entries) - i
			break
		}

		if entry.EntityType == model.EntityLabel || len(e.payloadLabels(entry)) > 0 {
			labelsTouched = true
		}

		switch err := e.replay(ctx, entry); {
		case err == nil:
			if derr := e.store.Dequeue(ctx, entry.ID); derr != nil {
				return stats, derr
			}
			stats.Processed++
		case errors.Is(err, errConflictDetected):
			stats.Conflicts++
		default:
			retryAfter := e.retryAfterFor(err, entry.Attempts)
			e.logger.Warn("Replay failed, deferring entry",
				"entry_id", entry.ID, "entity", entry.EntityID,
				"operation", string(entry.Operation), "retry_after", retryAfter, "error", err)
			if derr := e.store.DeferEntry(ctx, entry.ID, retryAfter, err.Error()); derr != nil {
				return stats, derr
			}
			stats.Deferred++
		}
	}

	if labelsTouched {
		if err := e.store.RecomputeLabelCounts(ctx); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (e *Engine) entitySuspended(ctx context.Context, entry *model.SyncQueueEntry) (bool, error) {
	if entry.EntityType != model.EntityIssue {
		return false, nil
	}
	issue, err := e.store.GetIssue(ctx, entry.EntityID)
	if err != nil {
		return false, err
	}
	return issue != nil && issue.SyncStatus == model.StatusConflict, nil
}

func (e *Engine) payloadLabels(entry *model.SyncQueueEntry) []string {
	if entry.EntityType != model.EntityIssue {
		return nil
	}
	var payload model.IssuePayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return nil
	}
	return payload.Labels
}

// replay dispatches one queue entry against the GitHub API.
func (e *Engine) replay(ctx context.Context, entry *model.SyncQueueEntry) error {
	switch entry.EntityType {
	case model.EntityIssue:
		var payload model.IssuePayload
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			return fmt.Errorf("malformed issue payload: %w", err)
		}
		switch entry.Operation {
		case model.OpCreate:
			return e.replayIssueCreate(ctx, entry, payload)
		case model.OpUpdate:
			return e.replayIssueUpdate(ctx, entry, payload)
		case model.OpDelete:
			return e.replayIssueDelete(ctx, entry)
		}
	case model.EntityLabel:
		var payload model.LabelPayload
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			return fmt.Errorf("malformed label payload: %w", err)
		}
		switch entry.Operation {
		case model.OpCreate:
			return e.replayLabelCreate(ctx, entry, payload)
		case model.OpUpdate:
			_, err := e.ghClient.EditLabel(ctx, e.repo.Owner, e.repo.Name, payload)
			return err
		case model.OpDelete:
			if err := e.ghClient.DeleteLabel(ctx, e.repo.Owner, e.repo.Name, payload.Name); err != nil {
				return err
			}
			return e.store.DeleteLabelRow(ctx, entry.EntityID)
		}
	}
	return fmt.Errorf("unknown queue entry %s/%s", entry.EntityType, entry.Operation)
}

func (e *Engine) replayIssueCreate(ctx context.Context, entry *model.SyncQueueEntry, payload model.IssuePayload) error {
	issue, err := e.store.GetIssue(ctx, entry.EntityID)
	if err != nil {
		return err
	}
	if issue == nil {
		// Row already gone locally; nothing to create.
		return nil
	}
	if issue.Number != nil {
		// Already applied on a previous attempt; a second create must
		// not duplicate remote state.
		return nil
	}

	remote, err := e.ghClient.CreateIssue(ctx, e.repo.Owner, e.repo.Name, payload)
	if err != nil {
		return err
	}
	return e.markSynced(ctx, entry, issue.ID, remote, payload.Body)
}

func (e *Engine) replayIssueUpdate(ctx context.Context, entry *model.SyncQueueEntry, payload model.IssuePayload) error {
	issue, err := e.store.GetIssue(ctx, entry.EntityID)
	if err != nil {
		return err
	}
	if issue == nil {
		return nil
	}
	if issue.Number == nil {
		// The preceding create has not landed yet; keep the entry
		// queued.
		return fmt.Errorf("issue %s has no remote number yet", issue.ID)
	}

	remote, err := e.ghClient.GetIssue(ctx, e.repo.Owner, e.repo.Name, *issue.Number)
	if err != nil {
		return err
	}

	if e.diverged(issue, remote) {
		conflict := &model.ConflictData{
			EntityID: issue.ID,
			Local: model.ConflictVersion{
				Title:     issue.Title,
				Body:      issue.Body,
				UpdatedAt: issue.LocalUpdatedAt,
			},
			Remote: model.ConflictVersion{
				Title:     remote.Title,
				Body:      remote.Body,
				UpdatedAt: remote.UpdatedAt,
			},
			DetectedAt: e.now(),
		}
		if err := e.store.SaveConflict(ctx, conflict); err != nil {
			return err
		}
		if err := e.store.SetIssueStatus(ctx, issue.ID, model.StatusConflict); err != nil {
			return err
		}
		e.logger.Warn("Conflict detected, suspending replay",
			"issue_id", issue.ID, "number", *issue.Number,
			"remote_updated_at", remote.UpdatedAt)
		return errConflictDetected
	}

	pushed, err := e.ghClient.EditIssue(ctx, e.repo.Owner, e.repo.Name, *issue.Number, payload)
	if err != nil {
		return err
	}
	return e.markSynced(ctx, entry, issue.ID, pushed, payload.Body)
}

// diverged implements checksum-based conflict detection: the remote moved
// past our baseline AND the local body differs from what was last synced.
func (e *Engine) diverged(issue *model.Issue, remote *model.RemoteIssue) bool {
	if issue.RemoteUpdatedAt == nil || issue.BodyChecksum == nil {
		return false
	}
	return remote.UpdatedAt.After(*issue.RemoteUpdatedAt) && Checksum(issue.Body) != *issue.BodyChecksum
}

func (e *Engine) replayIssueDelete(ctx context.Context, entry *model.SyncQueueEntry) error {
	issue, err := e.store.GetIssue(ctx, entry.EntityID)
	if err != nil {
		return err
	}
	if issue == nil {
		return nil
	}
	if issue.Number != nil {
		// The REST API cannot hard-delete issues; closing is the
		// remote confirmation for a queued delete.
		if _, err := e.ghClient.CloseIssue(ctx, e.repo.Owner, e.repo.Name, *issue.Number); err != nil {
			return err
		}
	}
	return e.store.DeleteIssueRow(ctx, issue.ID)
}

func (e *Engine) replayLabelCreate(ctx context.Context, entry *model.SyncQueueEntry, payload model.LabelPayload) error {
	label, err := e.store.GetLabel(ctx, entry.EntityID)
	if err != nil {
		return err
	}
	if label == nil {
		return nil
	}
	if label.RemoteID != nil {
		return nil
	}

	remote, err := e.ghClient.CreateLabel(ctx, e.repo.Owner, e.repo.Name, payload)
	if err != nil {
		return err
	}
	return e.store.MarkLabelSynced(ctx, label.ID, remote.ID)
}

// markSynced records a successful replay. If later mutations for the
// entity are still queued the status stays pending rather than synced,
// so the checksum invariant holds for readers in between.
func (e *Engine) markSynced(ctx context.Context, entry *model.SyncQueueEntry, issueID string, remote *model.RemoteIssue, pushedBody string) error {
	status := model.StatusSynced
	pending, err := e.store.PendingCountForEntity(ctx, model.EntityIssue, issueID, entry.ID)
	if err != nil {
		return err
	}
	if pending > 0 {
		status = model.StatusPendingUpdate
	}
	return e.store.MarkIssueSynced(ctx, issueID, remote.Number, remote.UpdatedAt, Checksum(pushedBody), status)
}

// retryAfterFor derives the retry gate from the API's reset hint when one
// exists, falling back to exponential backoff on the attempt count.
func (e *Engine) retryAfterFor(err error, attempts int) time.Time {
	now := e.now()

	var rateErr *gogithub.RateLimitError
	if errors.As(err, &rateErr) && !rateErr.Rate.Reset.IsZero() {
		return rateErr.Rate.Reset.Time
	}
	var abuseErr *gogithub.AbuseRateLimitError
	if errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil {
		return now.Add(*abuseErr.RetryAfter)
	}

	delay := defaultRetryDelay
	for i := 0; i < attempts && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return now.Add(delay)
}
