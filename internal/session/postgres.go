package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github-issue-mirror/internal/errors"
	"github-issue-mirror/internal/model"
)

// PGStore persists sessions in Postgres. Get refreshes the sliding TTL
// in the same statement that reads the row, so concurrent reads cannot
// observe a session they also expired.
type PGStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPGStore creates a Postgres-backed store. A non-positive ttl selects
// DefaultTTL.
func NewPGStore(pool *pgxpool.Pool, ttl time.Duration) *PGStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PGStore{pool: pool, ttl: ttl}
}

func (s *PGStore) Create(ctx context.Context, userID int64, accessToken string, installations []model.Installation) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}

	installJSON, err := json.Marshal(installations)
	if err != nil {
		return "", fmt.Errorf("failed to encode installations: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (token, user_id, access_token, installations, created_at, last_accessed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6)`,
		token, userID, accessToken, installJSON, now, now.Add(s.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return token, nil
}

func (s *PGStore) Get(ctx context.Context, token string) (*model.Session, error) {
	now := time.Now().UTC()

	var (
		sess        model.Session
		installJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		UPDATE sessions
		SET last_accessed_at = $2, expires_at = $3
		WHERE token = $1 AND expires_at > $2
		RETURNING user_id, access_token, installations, created_at, last_accessed_at`,
		token, now, now.Add(s.ttl)).
		Scan(&sess.UserID, &sess.AccessToken, &installJSON, &sess.CreatedAt, &sess.LastAccessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	if err := json.Unmarshal(installJSON, &sess.Installations); err != nil {
		return nil, fmt.Errorf("failed to decode installations: %w", err)
	}
	sess.Token = token
	return &sess, nil
}

func (s *PGStore) UpdateInstallations(ctx context.Context, token string, installations []model.Installation) error {
	installJSON, err := json.Marshal(installations)
	if err != nil {
		return fmt.Errorf("failed to encode installations: %w", err)
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET installations = $2, last_accessed_at = $3, expires_at = $4
		WHERE token = $1 AND expires_at > $3`,
		token, installJSON, now, now.Add(s.ttl))
	if err != nil {
		return fmt.Errorf("failed to update session installations: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrSessionNotFound
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SweepExpired removes sessions whose TTL has lapsed and returns how many
// rows were deleted.
func (s *PGStore) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
