package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

const userColumns = `id, email, role, daily_tokens, last_token_reset, created_at, updated_at`

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, role, daily_tokens)
		 VALUES ($1, $2, $3, $4)
		 RETURNING last_token_reset, created_at, updated_at`,
		user.ID, user.Email, user.Role, user.DailyTokens,
	).Scan(&user.LastTokenReset, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *PostgresStore) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Role, &u.DailyTokens, &u.LastTokenReset, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// --- Quota ---

func (s *PostgresStore) GetQuota(ctx context.Context, userID uuid.UUID) (models.UserQuota, error) {
	q := models.UserQuota{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT daily_tokens, last_token_reset FROM users WHERE id = $1`, userID,
	).Scan(&q.DailyTokens, &q.LastTokenReset)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserQuota{}, ErrNotFound
	}
	if err != nil {
		return models.UserQuota{}, fmt.Errorf("get quota: %w", err)
	}
	return q, nil
}

// consumeQuotaSQL resets an expired window and deducts in one statement.
// Row locking serialises concurrent callers; a caller that waited on the lock
// re-evaluates the WHERE clause against the committed row.
//
//	$1 user id, $2 allowance, $3 window in seconds, $4 amount
const consumeQuotaSQL = `
UPDATE users SET
    daily_tokens = CASE
        WHEN last_token_reset <= NOW() - make_interval(secs => $3::float8) THEN $2::int - $4::int
        ELSE daily_tokens - $4::int
    END,
    last_token_reset = CASE
        WHEN last_token_reset <= NOW() - make_interval(secs => $3::float8) THEN NOW()
        ELSE last_token_reset
    END,
    updated_at = NOW()
WHERE id = $1
  AND (
        (last_token_reset <= NOW() - make_interval(secs => $3::float8) AND $2::int >= $4::int)
     OR (last_token_reset >  NOW() - make_interval(secs => $3::float8) AND daily_tokens >= $4::int)
  )
RETURNING daily_tokens`

// ConsumeQuota deducts amount tokens from the user's balance, resetting the
// balance to allowance first when the window has elapsed. applied is false
// when no row matched: either the user does not exist or the balance is too
// low. Callers tell the two apart with GetQuota.
func (s *PostgresStore) ConsumeQuota(ctx context.Context, userID uuid.UUID, amount, allowance int, window time.Duration) (int, bool, error) {
	var remaining int
	err := s.pool.QueryRow(ctx, consumeQuotaSQL, userID, allowance, window.Seconds(), amount).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("consume quota: %w", err)
	}
	return remaining, true, nil
}

// --- API Keys ---

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, scopes, last_used_at, revoked_at, created_at`

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys
		 WHERE user_id = $1 AND revoked_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
