package model

import (
	"encoding/json"
	"time"
)

// SyncStatus tracks where a locally mirrored entity stands relative to GitHub.
type SyncStatus string

const (
	StatusSynced        SyncStatus = "synced"
	StatusPendingCreate SyncStatus = "pending_create"
	StatusPendingUpdate SyncStatus = "pending_update"
	StatusPendingDelete SyncStatus = "pending_delete"
	StatusConflict      SyncStatus = "conflict"
)

// EntityType identifies which kind of entity a queue entry mutates.
type EntityType string

const (
	EntityIssue EntityType = "issue"
	EntityLabel EntityType = "label"
)

// Operation identifies the mutation a queue entry replays against GitHub.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Issue is a locally mirrored GitHub issue. ID is an opaque local key;
// Number is the remote identifier and stays nil until GitHub assigns one.
// While SyncStatus is StatusSynced, BodyChecksum matches the hash of Body
// and RemoteUpdatedAt is non-nil.
type Issue struct {
	ID              string     `json:"id"`
	Number          *int       `json:"number,omitempty"`
	Title           string     `json:"title"`
	Body            string     `json:"body"`
	State           string     `json:"state"`
	Labels          []string   `json:"labels"`
	SyncStatus      SyncStatus `json:"sync_status"`
	LocalUpdatedAt  time.Time  `json:"local_updated_at"`
	RemoteUpdatedAt *time.Time `json:"remote_updated_at,omitempty"`
	BodyChecksum    *string    `json:"body_checksum,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Label is a repository label. IssueCount is derived from the issue-label
// association table and never mutated independently.
type Label struct {
	ID          string  `json:"id"`
	RemoteID    *int64  `json:"remote_id,omitempty"`
	Name        string  `json:"name"`
	Color       string  `json:"color"`
	Description *string `json:"description,omitempty"`
	IssueCount  int     `json:"issue_count"`
}

// Comment is a mirrored issue comment, pulled read-only from GitHub.
type Comment struct {
	RemoteID  int64     `json:"remote_id"`
	IssueID   string    `json:"issue_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncQueueEntry is one durable pending mutation. Entries replay in
// CreatedAt order; an entry with RetryAfter in the future is skipped
// until due.
type SyncQueueEntry struct {
	ID         int64           `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryAfter *time.Time      `json:"retry_after,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
}

// IssuePayload is the tagged-union payload for issue queue entries.
type IssuePayload struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	State  string   `json:"state"`
	Labels []string `json:"labels"`
}

// LabelPayload is the tagged-union payload for label queue entries.
// Name is the label's current remote name; NewName is set on renames.
type LabelPayload struct {
	Name        string  `json:"name"`
	NewName     string  `json:"new_name,omitempty"`
	Color       string  `json:"color"`
	Description *string `json:"description,omitempty"`
}

// RateLimitState is derived solely from the most recent GitHub response
// headers.
type RateLimitState struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Used      int       `json:"used,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	Reset     time.Time `json:"reset"`
}

// CachedInstallationToken is a short-lived installation access token held
// by the token cache, one live entry per installation id.
type CachedInstallationToken struct {
	InstallationID      int64             `json:"installation_id"`
	Token               string            `json:"token"`
	ExpiresAt           time.Time         `json:"expires_at"`
	Permissions         map[string]string `json:"permissions,omitempty"`
	RepositorySelection string            `json:"repository_selection,omitempty"`
}

// Account is a GitHub user or organization account.
type Account struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Type      string `json:"type,omitempty"`
}

// Installation is a GitHub App installation visible to the signed-in user.
type Installation struct {
	ID                  int64   `json:"id"`
	Account             Account `json:"account"`
	RepositorySelection string  `json:"repository_selection,omitempty"`
}

// Session is a backend session record with sliding 30-day expiration.
type Session struct {
	Token          string         `json:"session_token"`
	UserID         int64          `json:"user_id"`
	AccessToken    string         `json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	Installations  []Installation `json:"installations"`
}

// DeviceCode is the device authorization grant payload shown to the user.
type DeviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// DeviceToken is the successful result of a device-flow poll.
type DeviceToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// LoginResult is returned once the device flow completes and a session
// exists.
type LoginResult struct {
	SessionToken  string         `json:"session_token"`
	User          Account        `json:"user"`
	Installations []Installation `json:"installations"`
}

// ConflictVersion is one side of a detected divergence.
type ConflictVersion struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConflictData pairs the local and remote versions of a diverged issue.
// Replay for the entity stays suspended until a resolution is supplied.
type ConflictData struct {
	EntityID   string          `json:"entity_id"`
	Local      ConflictVersion `json:"local"`
	Remote     ConflictVersion `json:"remote"`
	DetectedAt time.Time       `json:"detected_at"`
}

// Resolution selects how a conflict is settled.
type Resolution string

const (
	ResolveLocal  Resolution = "local"
	ResolveRemote Resolution = "remote"
	ResolveMerged Resolution = "merged"
)

// MergedFields carries caller-supplied combined content for a merged
// resolution.
type MergedFields struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

// RemoteIssue is an issue as last seen on GitHub.
type RemoteIssue struct {
	Number    int
	Title     string
	Body      string
	State     string
	Labels    []string
	UpdatedAt time.Time
}

// RemoteLabel is a label as last seen on GitHub.
type RemoteLabel struct {
	ID          int64
	Name        string
	Color       string
	Description *string
}
