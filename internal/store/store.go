// Package store is the desktop-side persistence layer: mirrored issues
// and labels, the durable sync queue, detected conflicts and client
// settings, all in a single sqlite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github-issue-mirror/internal/model"
)

// Store wraps the sqlite connection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema
// exists. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		number INTEGER,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'open',
		sync_status TEXT NOT NULL,
		local_updated_at TIMESTAMP NOT NULL,
		remote_updated_at TIMESTAMP,
		body_checksum TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_issues_number ON issues(number) WHERE number IS NOT NULL;

	CREATE TABLE IF NOT EXISTS labels (
		id TEXT PRIMARY KEY,
		remote_id INTEGER,
		name TEXT NOT NULL UNIQUE,
		color TEXT NOT NULL,
		description TEXT,
		issue_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS issue_labels (
		issue_id TEXT NOT NULL,
		label_name TEXT NOT NULL,
		PRIMARY KEY (issue_id, label_name),
		FOREIGN KEY (issue_id) REFERENCES issues(id)
	);

	CREATE TABLE IF NOT EXISTS comments (
		remote_id INTEGER PRIMARY KEY,
		issue_id TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (issue_id) REFERENCES issues(id)
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		retry_after TIMESTAMP,
		error TEXT,
		attempts INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS conflicts (
		entity_id TEXT PRIMARY KEY,
		local_title TEXT NOT NULL,
		local_body TEXT NOT NULL,
		local_updated_at TIMESTAMP NOT NULL,
		remote_title TEXT NOT NULL,
		remote_body TEXT NOT NULL,
		remote_updated_at TIMESTAMP NOT NULL,
		detected_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- issues ---

// CreateIssue inserts a new issue row and its label associations.
func (s *Store) CreateIssue(ctx context.Context, issue *model.Issue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO issues (id, number, title, body, state, sync_status, local_updated_at, remote_updated_at, body_checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, nullInt(issue.Number), issue.Title, issue.Body, issue.State,
		string(issue.SyncStatus), issue.LocalUpdatedAt, nullTime(issue.RemoteUpdatedAt),
		nullString(issue.BodyChecksum), issue.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert issue: %w", err)
	}

	if err := setIssueLabels(ctx, tx, issue.ID, issue.Labels); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateIssue overwrites the issue row and replaces its label
// associations.
func (s *Store) UpdateIssue(ctx context.Context, issue *model.Issue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE issues
		SET number = ?, title = ?, body = ?, state = ?, sync_status = ?,
		    local_updated_at = ?, remote_updated_at = ?, body_checksum = ?
		WHERE id = ?`,
		nullInt(issue.Number), issue.Title, issue.Body, issue.State,
		string(issue.SyncStatus), issue.LocalUpdatedAt, nullTime(issue.RemoteUpdatedAt),
		nullString(issue.BodyChecksum), issue.ID)
	if err != nil {
		return fmt.Errorf("failed to update issue: %w", err)
	}

	if err := setIssueLabels(ctx, tx, issue.ID, issue.Labels); err != nil {
		return err
	}
	return tx.Commit()
}

func setIssueLabels(ctx context.Context, tx *sql.Tx, issueID string, labels []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM issue_labels WHERE issue_id = ?`, issueID); err != nil {
		return fmt.Errorf("failed to clear issue labels: %w", err)
	}
	for _, name := range labels {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issue_labels (issue_id, label_name) VALUES (?, ?)
			ON CONFLICT(issue_id, label_name) DO NOTHING`, issueID, name); err != nil {
			return fmt.Errorf("failed to associate label %q: %w", name, err)
		}
	}
	return nil
}

// GetIssue returns the issue by local id, or nil if absent.
func (s *Store) GetIssue(ctx context.Context, id string) (*model.Issue, error) {
	return s.getIssueWhere(ctx, "id = ?", id)
}

// GetIssueByNumber returns the issue by remote number, or nil if absent.
func (s *Store) GetIssueByNumber(ctx context.Context, number int) (*model.Issue, error) {
	return s.getIssueWhere(ctx, "number = ?", number)
}

func (s *Store) getIssueWhere(ctx context.Context, where string, arg any) (*model.Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, number, title, body, state, sync_status, local_updated_at, remote_updated_at, body_checksum, created_at
		FROM issues WHERE `+where, arg)

	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}

	if issue.Labels, err = s.issueLabels(ctx, issue.ID); err != nil {
		return nil, err
	}
	return issue, nil
}

// ListIssues returns all issues ordered by creation time.
func (s *Store) ListIssues(ctx context.Context) ([]model.Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, title, body, state, sync_status, local_updated_at, remote_updated_at, body_checksum, created_at
		FROM issues ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var issues []model.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		if issue.Labels, err = s.issueLabels(ctx, issue.ID); err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	return issues, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (*model.Issue, error) {
	var (
		issue    model.Issue
		number   sql.NullInt64
		remoteAt sql.NullTime
		checksum sql.NullString
		status   string
	)
	err := row.Scan(&issue.ID, &number, &issue.Title, &issue.Body, &issue.State,
		&status, &issue.LocalUpdatedAt, &remoteAt, &checksum, &issue.CreatedAt)
	if err != nil {
		return nil, err
	}

	issue.SyncStatus = model.SyncStatus(status)
	if number.Valid {
		n := int(number.Int64)
		issue.Number = &n
	}
	if remoteAt.Valid {
		t := remoteAt.Time
		issue.RemoteUpdatedAt = &t
	}
	if checksum.Valid {
		c := checksum.String
		issue.BodyChecksum = &c
	}
	return &issue, nil
}

func (s *Store) issueLabels(ctx context.Context, issueID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label_name FROM issue_labels WHERE issue_id = ? ORDER BY label_name`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to get issue labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		labels = append(labels, name)
	}
	return labels, rows.Err()
}

// SetIssueStatus flips only the issue's sync status.
func (s *Store) SetIssueStatus(ctx context.Context, id string, status model.SyncStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE issues SET sync_status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to set issue status: %w", err)
	}
	return nil
}

// MarkIssueSynced records a successful replay: remote number, remote
// clock and the checksum of the body now on the remote.
func (s *Store) MarkIssueSynced(ctx context.Context, id string, number int, remoteUpdatedAt time.Time, checksum string, status model.SyncStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE issues SET number = ?, remote_updated_at = ?, body_checksum = ?, sync_status = ?
		WHERE id = ?`,
		number, remoteUpdatedAt, checksum, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to mark issue synced: %w", err)
	}
	return nil
}

// DeleteIssueRow physically removes the issue and its associations. Only
// called once the remote confirmed the delete (or the issue never existed
// remotely).
func (s *Store) DeleteIssueRow(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM issue_labels WHERE issue_id = ?`,
		`DELETE FROM comments WHERE issue_id = ?`,
		`DELETE FROM issues WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete issue: %w", err)
		}
	}
	return tx.Commit()
}

// --- labels ---

// CreateLabel inserts a new label row.
func (s *Store) CreateLabel(ctx context.Context, label *model.Label) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO labels (id, remote_id, name, color, description, issue_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		label.ID, nullInt64(label.RemoteID), label.Name, label.Color,
		nullString(label.Description), label.IssueCount)
	if err != nil {
		return fmt.Errorf("failed to insert label: %w", err)
	}
	return nil
}

// UpdateLabel overwrites the label row.
func (s *Store) UpdateLabel(ctx context.Context, label *model.Label) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE labels SET remote_id = ?, name = ?, color = ?, description = ?
		WHERE id = ?`,
		nullInt64(label.RemoteID), label.Name, label.Color,
		nullString(label.Description), label.ID)
	if err != nil {
		return fmt.Errorf("failed to update label: %w", err)
	}
	return nil
}

// UpsertRemoteLabel reconciles a label seen on GitHub during a pull,
// matching by name.
func (s *Store) UpsertRemoteLabel(ctx context.Context, id string, remote model.RemoteLabel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO labels (id, remote_id, name, color, description, issue_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(name) DO UPDATE SET
			remote_id = excluded.remote_id,
			color = excluded.color,
			description = excluded.description`,
		id, remote.ID, remote.Name, remote.Color, nullString(remote.Description))
	if err != nil {
		return fmt.Errorf("failed to upsert label: %w", err)
	}
	return nil
}

// GetLabel returns the label by local id, or nil if absent.
func (s *Store) GetLabel(ctx context.Context, id string) (*model.Label, error) {
	return s.getLabelWhere(ctx, "id = ?", id)
}

// GetLabelByName returns the label by name, or nil if absent.
func (s *Store) GetLabelByName(ctx context.Context, name string) (*model.Label, error) {
	return s.getLabelWhere(ctx, "name = ?", name)
}

func (s *Store) getLabelWhere(ctx context.Context, where string, arg any) (*model.Label, error) {
	var (
		label    model.Label
		remoteID sql.NullInt64
		desc     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, remote_id, name, color, description, issue_count
		FROM labels WHERE `+where, arg).
		Scan(&label.ID, &remoteID, &label.Name, &label.Color, &desc, &label.IssueCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get label: %w", err)
	}

	if remoteID.Valid {
		label.RemoteID = &remoteID.Int64
	}
	if desc.Valid {
		label.Description = &desc.String
	}
	return &label, nil
}

// ListLabels returns all labels ordered by name.
func (s *Store) ListLabels(ctx context.Context) ([]model.Label, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, remote_id, name, color, description, issue_count
		FROM labels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	defer rows.Close()

	var labels []model.Label
	for rows.Next() {
		var (
			label    model.Label
			remoteID sql.NullInt64
			desc     sql.NullString
		)
		if err := rows.Scan(&label.ID, &remoteID, &label.Name, &label.Color, &desc, &label.IssueCount); err != nil {
			return nil, err
		}
		if remoteID.Valid {
			label.RemoteID = &remoteID.Int64
		}
		if desc.Valid {
			label.Description = &desc.String
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// MarkLabelSynced records the remote id assigned on create.
func (s *Store) MarkLabelSynced(ctx context.Context, id string, remoteID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE labels SET remote_id = ? WHERE id = ?`, remoteID, id)
	if err != nil {
		return fmt.Errorf("failed to mark label synced: %w", err)
	}
	return nil
}

// DeleteLabelRow physically removes the label and its associations.
func (s *Store) DeleteLabelRow(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var name string
	err = tx.QueryRowContext(ctx, `SELECT name FROM labels WHERE id = ?`, id).Scan(&name)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete label: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM issue_labels WHERE label_name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete label associations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete label: %w", err)
	}
	return tx.Commit()
}

// RecomputeLabelCounts rebuilds every label's issue count from the
// association table. Counts are never incrementally patched.
func (s *Store) RecomputeLabelCounts(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE labels SET issue_count = (
			SELECT COUNT(*) FROM issue_labels WHERE issue_labels.label_name = labels.name
		)`)
	if err != nil {
		return fmt.Errorf("failed to recompute label counts: %w", err)
	}
	return nil
}

// --- comments ---

// SaveComment upserts a pulled comment by remote id.
func (s *Store) SaveComment(ctx context.Context, comment *model.Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (remote_id, issue_id, author, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(remote_id) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at`,
		comment.RemoteID, comment.IssueID, comment.Author, comment.Body,
		comment.CreatedAt, comment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save comment: %w", err)
	}
	return nil
}

// ListComments returns an issue's comments in creation order.
func (s *Store) ListComments(ctx context.Context, issueID string) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT remote_id, issue_id, author, body, created_at, updated_at
		FROM comments WHERE issue_id = ? ORDER BY created_at`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []model.Comment
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.RemoteID, &c.IssueID, &c.Author, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// --- sync queue ---

// Enqueue appends a pending mutation and returns its monotonic id.
func (s *Store) Enqueue(ctx context.Context, entry *model.SyncQueueEntry) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (entity_type, entity_id, operation, payload, created_at, attempts)
		VALUES (?, ?, ?, ?, ?, 0)`,
		string(entry.EntityType), entry.EntityID, string(entry.Operation),
		string(entry.Payload), entry.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue: %w", err)
	}
	return res.LastInsertId()
}

// DueEntries returns entries whose retry gate has passed, in enqueue
// order.
func (s *Store) DueEntries(ctx context.Context, now time.Time) ([]model.SyncQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, operation, payload, created_at, retry_after, error, attempts
		FROM sync_queue
		WHERE retry_after IS NULL OR retry_after <= ?
		ORDER BY created_at, id`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListQueue returns every queue entry in enqueue order.
func (s *Store) ListQueue(ctx context.Context) ([]model.SyncQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, operation, payload, created_at, retry_after, error, attempts
		FROM sync_queue ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]model.SyncQueueEntry, error) {
	var entries []model.SyncQueueEntry
	for rows.Next() {
		var (
			entry      model.SyncQueueEntry
			entityType string
			operation  string
			payload    string
			retryAfter sql.NullTime
			errMsg     sql.NullString
		)
		err := rows.Scan(&entry.ID, &entityType, &entry.EntityID, &operation,
			&payload, &entry.CreatedAt, &retryAfter, &errMsg, &entry.Attempts)
		if err != nil {
			return nil, err
		}

		entry.EntityType = model.EntityType(entityType)
		entry.Operation = model.Operation(operation)
		entry.Payload = []byte(payload)
		if retryAfter.Valid {
			t := retryAfter.Time
			entry.RetryAfter = &t
		}
		if errMsg.Valid {
			entry.Error = errMsg.String
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Dequeue removes a successfully replayed entry.
func (s *Store) Dequeue(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to dequeue: %w", err)
	}
	return nil
}

// DeferEntry gates the entry until retryAfter, recording the failure and
// bumping the attempt count.
func (s *Store) DeferEntry(ctx context.Context, id int64, retryAfter time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET retry_after = ?, error = ?, attempts = attempts + 1
		WHERE id = ?`, retryAfter, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to defer entry: %w", err)
	}
	return nil
}

// DeleteEntriesForEntity drops all pending mutations for one entity.
// Used when a conflict resolution discards or replaces local intent.
func (s *Store) DeleteEntriesForEntity(ctx context.Context, entityType model.EntityType, entityID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ?`,
		string(entityType), entityID)
	if err != nil {
		return fmt.Errorf("failed to delete queue entries: %w", err)
	}
	return nil
}

// PendingCountForEntity counts queued mutations for one entity, excluding
// the entry currently being replayed.
func (s *Store) PendingCountForEntity(ctx context.Context, entityType model.EntityType, entityID string, excludeID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_queue
		WHERE entity_type = ? AND entity_id = ? AND id != ?`,
		string(entityType), entityID, excludeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return n, nil
}

// --- conflicts ---

// SaveConflict upserts the conflict record for an entity.
func (s *Store) SaveConflict(ctx context.Context, c *model.ConflictData) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conflicts (entity_id, local_title, local_body, local_updated_at,
			remote_title, remote_body, remote_updated_at, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			local_title = excluded.local_title,
			local_body = excluded.local_body,
			local_updated_at = excluded.local_updated_at,
			remote_title = excluded.remote_title,
			remote_body = excluded.remote_body,
			remote_updated_at = excluded.remote_updated_at,
			detected_at = excluded.detected_at`,
		c.EntityID, c.Local.Title, c.Local.Body, c.Local.UpdatedAt,
		c.Remote.Title, c.Remote.Body, c.Remote.UpdatedAt, c.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to save conflict: %w", err)
	}
	return nil
}

// GetConflict returns the conflict for an entity, or nil if none.
func (s *Store) GetConflict(ctx context.Context, entityID string) (*model.ConflictData, error) {
	var c model.ConflictData
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_id, local_title, local_body, local_updated_at,
			remote_title, remote_body, remote_updated_at, detected_at
		FROM conflicts WHERE entity_id = ?`, entityID).
		Scan(&c.EntityID, &c.Local.Title, &c.Local.Body, &c.Local.UpdatedAt,
			&c.Remote.Title, &c.Remote.Body, &c.Remote.UpdatedAt, &c.DetectedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return &c, nil
}

// ListConflicts returns all unresolved conflicts.
func (s *Store) ListConflicts(ctx context.Context) ([]model.ConflictData, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, local_title, local_body, local_updated_at,
			remote_title, remote_body, remote_updated_at, detected_at
		FROM conflicts ORDER BY detected_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []model.ConflictData
	for rows.Next() {
		var c model.ConflictData
		err := rows.Scan(&c.EntityID, &c.Local.Title, &c.Local.Body, &c.Local.UpdatedAt,
			&c.Remote.Title, &c.Remote.Body, &c.Remote.UpdatedAt, &c.DetectedAt)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// DeleteConflict removes the conflict record once resolved.
func (s *Store) DeleteConflict(ctx context.Context, entityID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conflicts WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("failed to delete conflict: %w", err)
	}
	return nil
}

// --- settings ---

// GetSetting returns the value for key, or "" if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts a settings value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
