package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gh "github-issue-mirror/internal/github"
	"github-issue-mirror/internal/model"
	"github-issue-mirror/internal/ratelimit"
	"github-issue-mirror/internal/retry"
	"github-issue-mirror/internal/store"
)

// fakeRemoteIssue is server-side issue state for the fake GitHub.
type fakeRemoteIssue struct {
	Title     string
	Body      string
	State     string
	Labels    []string
	UpdatedAt time.Time
}

// fakeGitHub is a stateful stand-in for the repository REST surface.
type fakeGitHub struct {
	mu         sync.Mutex
	nextNumber int
	issues     map[int]*fakeRemoteIssue
	labels     map[string]int64 // name -> remote id
	comments   map[int][]model.Comment

	createCalls int
	editCalls   int
	failEdits   int  // respond 503 to this many edit calls
	exhaustOnce bool // next response reports zero remaining budget
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		nextNumber: 100,
		issues:     make(map[int]*fakeRemoteIssue),
		labels:     make(map[string]int64),
		comments:   make(map[int][]model.Comment),
	}
}

func (f *fakeGitHub) issueJSON(number int, is *fakeRemoteIssue) map[string]any {
	labels := make([]map[string]any, 0, len(is.Labels))
	for _, name := range is.Labels {
		labels = append(labels, map[string]any{"name": name})
	}
	return map[string]any{
		"number":     number,
		"title":      is.Title,
		"body":       is.Body,
		"state":      is.State,
		"labels":     labels,
		"updated_at": is.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (f *fakeGitHub) respond(w http.ResponseWriter, status int, payload any) {
	if f.exhaustOnce {
		f.exhaustOnce = false
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (f *fakeGitHub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v3/repos/o/r/issues", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.createCalls++

		var req struct {
			Title  string   `json:"title"`
			Body   string   `json:"body"`
			Labels []string `json:"labels"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.nextNumber++
		number := f.nextNumber
		f.issues[number] = &fakeRemoteIssue{
			Title: req.Title, Body: req.Body, State: "open",
			Labels: req.Labels, UpdatedAt: time.Now().UTC(),
		}
		f.respond(w, http.StatusCreated, f.issueJSON(number, f.issues[number]))
	})

	mux.HandleFunc("GET /api/v3/repos/o/r/issues/{number}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		number, _ := strconv.Atoi(r.PathValue("number"))
		is, ok := f.issues[number]
		if !ok {
			f.respond(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		f.respond(w, http.StatusOK, f.issueJSON(number, is))
	})

	mux.HandleFunc("PATCH /api/v3/repos/o/r/issues/{number}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.editCalls++
		if f.failEdits > 0 {
			f.failEdits--
			f.respond(w, http.StatusServiceUnavailable, map[string]string{"message": "down"})
			return
		}

		number, _ := strconv.Atoi(r.PathValue("number"))
		is, ok := f.issues[number]
		if !ok {
			f.respond(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}

		var req struct {
			Title  *string   `json:"title"`
			Body   *string   `json:"body"`
			State  *string   `json:"state"`
			Labels *[]string `json:"labels"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Title != nil {
			is.Title = *req.Title
		}
		if req.Body != nil {
			is.Body = *req.Body
		}
		if req.State != nil {
			is.State = *req.State
		}
		if req.Labels != nil {
			is.Labels = *req.Labels
		}
		is.UpdatedAt = time.Now().UTC()
		f.respond(w, http.StatusOK, f.issueJSON(number, is))
	})

	mux.HandleFunc("GET /api/v3/repos/o/r/issues", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var list []map[string]any
		for number, is := range f.issues {
			list = append(list, f.issueJSON(number, is))
		}
		f.respond(w, http.StatusOK, list)
	})

	mux.HandleFunc("GET /api/v3/repos/o/r/issues/{number}/comments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		number, _ := strconv.Atoi(r.PathValue("number"))
		var list []map[string]any
		for _, c := range f.comments[number] {
			list = append(list, map[string]any{
				"id":         c.RemoteID,
				"body":       c.Body,
				"user":       map[string]any{"login": c.Author},
				"created_at": c.CreatedAt.UTC().Format(time.RFC3339),
				"updated_at": c.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
		f.respond(w, http.StatusOK, list)
	})

	mux.HandleFunc("GET /api/v3/repos/o/r/labels", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var list []map[string]any
		for name, id := range f.labels {
			list = append(list, map[string]any{"id": id, "name": name, "color": "ededed"})
		}
		f.respond(w, http.StatusOK, list)
	})

	mux.HandleFunc("POST /api/v3/repos/o/r/labels", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var req struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		id := int64(500 + len(f.labels))
		f.labels[req.Name] = id
		f.respond(w, http.StatusCreated, map[string]any{"id": id, "name": req.Name, "color": req.Color})
	})

	mux.HandleFunc("PATCH /api/v3/repos/o/r/labels/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		old := r.PathValue("name")
		id, ok := f.labels[old]
		if !ok {
			f.respond(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		var req struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		delete(f.labels, old)
		f.labels[req.Name] = id
		f.respond(w, http.StatusOK, map[string]any{"id": id, "name": req.Name, "color": req.Color})
	})

	mux.HandleFunc("DELETE /api/v3/repos/o/r/labels/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.labels, r.PathValue("name"))
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

// setupEngine wires an engine against a fake GitHub and an in-memory
// store.
func setupEngine(t *testing.T) (*Engine, *store.Store, *fakeGitHub) {
	t.Helper()

	fake := newFakeGitHub()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tracker := ratelimit.NewTracker(0)
	client := gh.NewClient("", tracker, logger)
	client.SetRetryOptions(retry.Options{MaxAttempts: 2, InitialDelay: 5 * time.Millisecond})
	require.NoError(t, client.OverrideBaseURL(server.URL+"/"))

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	eng := NewEngine(st, client, tracker, RepoIdentifier{Owner: "o", Name: "r"}, logger)
	eng.SetRetryOptions(retry.Options{MaxAttempts: 2, InitialDelay: 5 * time.Millisecond})
	return eng, st, fake
}

func TestParseRepo(t *testing.T) {
	repo, err := ParseRepo("octocat/hello")
	require.NoError(t, err)
	assert.Equal(t, "octocat", repo.Owner)
	assert.Equal(t, "hello", repo.Name)

	for _, bad := range []string{"", "octocat", "octocat/", "/hello", "a/b/c"} {
		_, err := ParseRepo(bad)
		assert.Error(t, err, bad)
	}
}

func TestEngine_CreateAndDrain(t *testing.T) {
	ctx := context.Background()
	eng, st, fake := setupEngine(t)

	issue, err := eng.CreateIssue(ctx, "Crash on startup", "stack trace here", []string{"bug"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingCreate, issue.SyncStatus)
	assert.Nil(t, issue.Number)

	t.Run("drain pushes the create and records the remote state", func(t *testing.T) {
		stats, err := eng.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed)
		assert.Equal(t, 1, fake.createCalls)

		got, err := st.GetIssue(ctx, issue.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Number)
		assert.Equal(t, model.StatusSynced, got.SyncStatus)
		require.NotNil(t, got.BodyChecksum)
		assert.Equal(t, Checksum("stack trace here"), *got.BodyChecksum)
		assert.NotNil(t, got.RemoteUpdatedAt)
	})

	t.Run("a drained queue is a no-op", func(t *testing.T) {
		stats, err := eng.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Processed)
		assert.Equal(t, 1, fake.createCalls)
	})

	t.Run("a stale create entry never duplicates the remote issue", func(t *testing.T) {
		// Simulate a crash after the API call landed but before the
		// entry was dequeued.
		payload, _ := json.Marshal(model.IssuePayload{Title: "Crash on startup", Body: "stack trace here"})
		_, err := st.Enqueue(ctx, &model.SyncQueueEntry{
			EntityType: model.EntityIssue,
			EntityID:   issue.ID,
			Operation:  model.OpCreate,
			Payload:    payload,
			CreatedAt:  time.Now(),
		})
		require.NoError(t, err)

		stats, err := eng.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed, "entry resolves without a remote call")
		assert.Equal(t, 1, fake.createCalls)
	})
}

func TestEngine_UpdateFlow(t *testing.T) {
	ctx := context.Background()
	eng, st, fake := setupEngine(t)

	issue, err := eng.CreateIssue(ctx, "Typo", "teh", nil)
	require.NoError(t, err)
	_, err = eng.Drain(ctx)
	require.NoError(t, err)

	newBody := "the"
	_, err = eng.UpdateIssue(ctx, issue.ID, IssueUpdate{Body: &newBody})
	require.NoError(t, err)

	got, err := st.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingUpdate, got.SyncStatus)

	stats, err := eng.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Zero(t, stats.Conflicts)

	got, err = st.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSynced, got.SyncStatus)
	assert.Equal(t, Checksum("the"), *got.BodyChecksum)

	fake.mu.Lock()
	remote := fake.issues[*got.Number]
	fake.mu.Unlock()
	assert.Equal(t, "the", remote.Body)
}

func TestEngine_QueuedEditsStayPendingUntilLast(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := setupEngine(t)

	issue, err := eng.CreateIssue(ctx, "Two edits", "v0", nil)
	require.NoError(t, err)

	v1, v2 := "v1", "v2"
	_, err = eng.UpdateIssue(ctx, issue.ID, IssueUpdate{Body: &v1})
	require.NoError(t, err)
	_, err = eng.UpdateIssue(ctx, issue.ID, IssueUpdate{Body: &v2})
	require.NoError(t, err)

	stats, err := eng.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Processed)

	got, err := st.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSynced, got.SyncStatus)
	assert.Equal(t, Checksum("v2"), *got.BodyChecksum)
}

func TestEngine_ConflictDetectionAndResolution(t *testing.T) {
	ctx := context.Background()

	// seed creates a synced issue, applies a local edit and a concurrent
	// remote edit, so the next drain must flag a conflict.
	seed := func(t *testing.T) (*Engine, *store.Store, *fakeGitHub, string) {
		eng, st, fake := setupEngine(t)

		issue, err := eng.CreateIssue(ctx, "Shared doc", "original", nil)
		require.NoError(t, err)
		_, err = eng.Drain(ctx)
		require.NoError(t, err)

		localBody := "local edit"
		_, err = eng.UpdateIssue(ctx, issue.ID, IssueUpdate{Body: &localBody})
		require.NoError(t, err)

		got, err := st.GetIssue(ctx, issue.ID)
		require.NoError(t, err)
		fake.mu.Lock()
		fake.issues[*got.Number].Body = "remote edit"
		fake.issues[*got.Number].Title = "Shared doc (remote)"
		fake.issues[*got.Number].UpdatedAt = got.RemoteUpdatedAt.Add(time.Minute)
		fake.mu.Unlock()

		stats, err := eng.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Conflicts)
		return eng, st, fake, issue.ID
	}

	t.Run("divergence suspends the entity", func(t *testing.T) {
		eng, st, fake, id := seed(t)

		got, err := st.GetIssue(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusConflict, got.SyncStatus)

		conflict, err := st.GetConflict(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, conflict)
		assert.Equal(t, "local edit", conflict.Local.Body)
		assert.Equal(t, "remote edit", conflict.Remote.Body)

		// The entry stays queued but is skipped while suspended.
		edits := fake.editCalls
		stats, err := eng.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Skipped)
		assert.Equal(t, edits, fake.editCalls)

		// Further local edits are rejected until resolution.
		body := "another edit"
		_, err = eng.UpdateIssue(ctx, id, IssueUpdate{Body: &body})
		assert.ErrorIs(t, err, ErrConflictPending)
	})

	t.Run("resolve local pushes the local version", func(t *testing.T) {
		eng, st, fake, id := seed(t)

		resolved, err := eng.Resolve(ctx, id, model.ResolveLocal, nil)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPendingUpdate, resolved.SyncStatus)
		assert.Equal(t, "local edit", resolved.Body)

		stats, err := eng.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed)
		assert.Zero(t, stats.Conflicts)

		got, err := st.GetIssue(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusSynced, got.SyncStatus)
		fake.mu.Lock()
		assert.Equal(t, "local edit", fake.issues[*got.Number].Body)
		fake.mu.Unlock()
	})

	t.Run("resolve remote adopts the remote version and pushes nothing", func(t *testing.T) {
		eng, st, fake, id := seed(t)
		edits := fake.editCalls

		resolved, err := eng.Resolve(ctx, id, model.ResolveRemote, nil)
		require.NoError(t, err)
		assert.Equal(t, model.StatusSynced, resolved.SyncStatus)
		assert.Equal(t, "remote edit", resolved.Body)
		assert.Equal(t, "Shared doc (remote)", resolved.Title)

		stats, err := eng.Drain(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Processed)
		assert.Equal(t, edits, fake.editCalls)

		conflict, err := st.GetConflict(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, conflict)
	})

	t.Run("resolve merged pushes caller-combined content", func(t *testing.T) {
		eng, st, fake, id := seed(t)

		merged := &model.MergedFields{Title: "Shared doc", Body: "local edit\n\nremote edit"}
		resolved, err := eng.Resolve(ctx, id, model.ResolveMerged, merged)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPendingUpdate, resolved.SyncStatus)

		_, err = eng.Drain(ctx)
		require.NoError(t, err)

		got, err := st.GetIssue(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusSynced, got.SyncStatus)
		fake.mu.Lock()
		assert.Equal(t, "local edit\n\nremote edit", fake.issues[*got.Number].Body)
		fake.mu.Unlock()
	})

	t.Run("merged without content is rejected", func(t *testing.T) {
		eng, _, _, id := seed(t)
		_, err := eng.Resolve(ctx, id, model.ResolveMerged, nil)
		assert.Error(t, err)
	})
}

func TestEngine_TransientFailureDefersEntry(t *testing.T) {
	ctx := context.Background()
	eng, st, fake := setupEngine(t)

	issue, err := eng.CreateIssue(ctx, "Flaky", "v0", nil)
	require.NoError(t, err)
	_, err = eng.Drain(ctx)
	require.NoError(t, err)

	v1 := "v1"
	_, err = eng.UpdateIssue(ctx, issue.ID, IssueUpdate{Body: &v1})
	require.NoError(t, err)

	// Enough 503s to exhaust the per-call retry budget.
	fake.mu.Lock()
	fake.failEdits = 10
	fake.mu.Unlock()

	stats, err := eng.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deferred)

	entries, err := st.ListQueue(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)
	require.NotNil(t, entries[0].RetryAfter)
	assert.True(t, entries[0].RetryAfter.After(time.Now()))
	assert.NotEmpty(t, entries[0].Error)

	t.Run("gated entry is not due until the backoff passes", func(t *testing.T) {
		fake.mu.Lock()
		fake.failEdits = 0
		fake.mu.Unlock()

		stats, err := eng.Drain(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Processed)

		// Advance the engine clock past the gate.
		eng.now = func() time.Time { return time.Now().Add(time.Hour) }
		stats, err = eng.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed)
	})
}

func TestEngine_BudgetExhaustionSkipsRemainingEntries(t *testing.T) {
	ctx := context.Background()
	eng, _, fake := setupEngine(t)

	_, err := eng.CreateIssue(ctx, "One", "", nil)
	require.NoError(t, err)
	_, err = eng.CreateIssue(ctx, "Two", "", nil)
	require.NoError(t, err)

	// The first response reports a fully spent budget.
	fake.mu.Lock()
	fake.exhaustOnce = true
	fake.mu.Unlock()

	stats, err := eng.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, fake.createCalls)
}

func TestEngine_DeleteFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("synced issue closes remotely before the row is removed", func(t *testing.T) {
		eng, st, fake := setupEngine(t)

		issue, err := eng.CreateIssue(ctx, "Old task", "", nil)
		require.NoError(t, err)
		_, err = eng.Drain(ctx)
		require.NoError(t, err)

		got, err := st.GetIssue(ctx, issue.ID)
		require.NoError(t, err)
		number := *got.Number

		require.NoError(t, eng.DeleteIssue(ctx, issue.ID))
		got, err = st.GetIssue(ctx, issue.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPendingDelete, got.SyncStatus)

		stats, err := eng.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed)

		got, err = st.GetIssue(ctx, issue.ID)
		require.NoError(t, err)
		assert.Nil(t, got, "row is gone after remote confirmation")

		fake.mu.Lock()
		assert.Equal(t, "closed", fake.issues[number].State)
		fake.mu.Unlock()
	})

	t.Run("never-synced issue is removed without a remote call", func(t *testing.T) {
		eng, st, fake := setupEngine(t)

		issue, err := eng.CreateIssue(ctx, "Draft", "", nil)
		require.NoError(t, err)

		// Drop the queued create so the delete replays against an issue
		// that never reached GitHub.
		require.NoError(t, st.DeleteEntriesForEntity(ctx, model.EntityIssue, issue.ID))
		require.NoError(t, eng.DeleteIssue(ctx, issue.ID))

		stats, err := eng.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed)

		got, err := st.GetIssue(ctx, issue.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Zero(t, fake.createCalls)
		assert.Zero(t, fake.editCalls)
	})
}

func TestEngine_LabelFlow(t *testing.T) {
	ctx := context.Background()
	eng, st, fake := setupEngine(t)

	t.Run("rejects malformed colors", func(t *testing.T) {
		_, err := eng.CreateLabel(ctx, "bad", "red", nil)
		assert.Error(t, err)
		_, err = eng.CreateLabel(ctx, "bad", "#ff0000", nil)
		assert.Error(t, err)
	})

	label, err := eng.CreateLabel(ctx, "bug", "d73a4a", nil)
	require.NoError(t, err)

	t.Run("duplicate names are rejected", func(t *testing.T) {
		_, err := eng.CreateLabel(ctx, "bug", "ededed", nil)
		assert.Error(t, err)
	})

	t.Run("create replay records the remote id", func(t *testing.T) {
		stats, err := eng.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed)

		got, err := st.GetLabel(ctx, label.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RemoteID)
		fake.mu.Lock()
		assert.Contains(t, fake.labels, "bug")
		fake.mu.Unlock()
	})

	t.Run("rename addresses the remote by the old name", func(t *testing.T) {
		newName := "defect"
		_, err := eng.UpdateLabel(ctx, label.ID, LabelUpdate{Name: &newName})
		require.NoError(t, err)

		stats, err := eng.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed)

		fake.mu.Lock()
		assert.Contains(t, fake.labels, "defect")
		assert.NotContains(t, fake.labels, "bug")
		fake.mu.Unlock()
	})

	t.Run("delete removes remote then local", func(t *testing.T) {
		require.NoError(t, eng.DeleteLabel(ctx, label.ID))
		stats, err := eng.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed)

		got, err := st.GetLabel(ctx, label.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		fake.mu.Lock()
		assert.Empty(t, fake.labels)
		fake.mu.Unlock()
	})
}

func TestEngine_Pull(t *testing.T) {
	ctx := context.Background()
	eng, st, fake := setupEngine(t)

	now := time.Now().UTC().Truncate(time.Second)
	fake.mu.Lock()
	fake.issues[201] = &fakeRemoteIssue{
		Title: "Remote one", Body: "from github", State: "open",
		Labels: []string{"bug"}, UpdatedAt: now,
	}
	fake.labels["bug"] = 900
	fake.comments[201] = []model.Comment{{
		RemoteID: 31, Author: "octocat", Body: "a comment",
		CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
	}}
	fake.mu.Unlock()

	// A local issue with pending edits must survive the pull untouched.
	pending, err := eng.CreateIssue(ctx, "Local pending", "local body", nil)
	require.NoError(t, err)

	stats, err := eng.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	assert.Zero(t, stats.Skipped)

	t.Run("adopts unseen remote issues as synced", func(t *testing.T) {
		got, err := st.GetIssueByNumber(ctx, 201)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, model.StatusSynced, got.SyncStatus)
		assert.Equal(t, "Remote one", got.Title)
		assert.Equal(t, []string{"bug"}, got.Labels)
		assert.Equal(t, Checksum("from github"), *got.BodyChecksum)

		comments, err := st.ListComments(ctx, got.ID)
		require.NoError(t, err)
		require.Len(t, comments, 1)
		assert.Equal(t, "a comment", comments[0].Body)
	})

	t.Run("pulled labels land with remote ids and counts", func(t *testing.T) {
		label, err := st.GetLabelByName(ctx, "bug")
		require.NoError(t, err)
		require.NotNil(t, label)
		require.NotNil(t, label.RemoteID)
		assert.Equal(t, int64(900), *label.RemoteID)
		assert.Equal(t, 1, label.IssueCount)
	})

	t.Run("pending local rows are not clobbered", func(t *testing.T) {
		got, err := st.GetIssue(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, "local body", got.Body)
		assert.Equal(t, model.StatusPendingCreate, got.SyncStatus)
	})

	t.Run("watermark is recorded", func(t *testing.T) {
		raw, err := st.GetSetting(ctx, "last_pull")
		require.NoError(t, err)
		_, err = time.Parse(time.RFC3339, raw)
		assert.NoError(t, err)
	})

	t.Run("synced rows refresh from later remote edits", func(t *testing.T) {
		fake.mu.Lock()
		fake.issues[201].Body = "updated remotely"
		fake.issues[201].UpdatedAt = now.Add(time.Minute)
		fake.mu.Unlock()

		stats, err := eng.Pull(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Updated)

		got, err := st.GetIssueByNumber(ctx, 201)
		require.NoError(t, err)
		assert.Equal(t, "updated remotely", got.Body)
		assert.Equal(t, Checksum("updated remotely"), *got.BodyChecksum)
	})
}
