package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

// Ensure IntegrationStore implements the interface.
var _ driven.IntegrationStore = (*IntegrationStore)(nil)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

const integrationColumns = `
	id, tenant_id, platform, secret_blob, token_expires_at,
	external_account_id, status, platform_config, last_error,
	needs_reconnect, last_refreshed_at, created_at, updated_at`

// tokenSecrets is the plaintext sealed into secret_blob.
type tokenSecrets struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// IntegrationStore implements driven.IntegrationStore using PostgreSQL.
// Tokens are encrypted at rest; every other column is plaintext.
type IntegrationStore struct {
	db        *sql.DB
	encryptor *SecretEncryptor
}

// NewIntegrationStore creates a PostgreSQL-backed integration store.
func NewIntegrationStore(db *sql.DB, encryptor *SecretEncryptor) *IntegrationStore {
	return &IntegrationStore{
		db:        db,
		encryptor: encryptor,
	}
}

// FindByTenantAndPlatform returns nil, nil when the pair has no record.
func (s *IntegrationStore) FindByTenantAndPlatform(ctx context.Context, tenantID string, platform domain.Platform) (*domain.Integration, error) {
	query := `SELECT` + integrationColumns + `
		FROM commerce_integrations
		WHERE tenant_id = $1 AND platform = $2`

	rec, err := s.scan(s.db.QueryRowContext(ctx, query, tenantID, string(platform)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", err)
	}
	return rec, nil
}

// FindByTenantID returns every record of a tenant ordered by platform.
func (s *IntegrationStore) FindByTenantID(ctx context.Context, tenantID string) ([]*domain.Integration, error) {
	query := `SELECT` + integrationColumns + `
		FROM commerce_integrations
		WHERE tenant_id = $1
		ORDER BY platform`

	return s.query(ctx, "list integrations", query, tenantID)
}

// FindExpiring returns refreshable records whose token expires before cutoff.
func (s *IntegrationStore) FindExpiring(ctx context.Context, cutoff time.Time) ([]*domain.Integration, error) {
	query := `SELECT` + integrationColumns + `
		FROM commerce_integrations
		WHERE token_expires_at IS NOT NULL
		  AND token_expires_at < $1
		  AND needs_reconnect = FALSE
		  AND status IN ('CONNECTED', 'ERROR')
		ORDER BY token_expires_at`

	return s.query(ctx, "find expiring integrations", query, cutoff)
}

// Create inserts a new record. A second record for the same pair fails
// with domain.ErrAlreadyExists.
func (s *IntegrationStore) Create(ctx context.Context, rec *domain.Integration) (*domain.Integration, error) {
	blob, err := s.encryptor.Seal(rec.ID, tokenSecrets{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("encrypt tokens: %w", err)
	}

	cfg, err := marshalConfig(rec.PlatformConfig)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO commerce_integrations (` + integrationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING` + integrationColumns

	created, err := s.scan(s.db.QueryRowContext(ctx, query,
		rec.ID,
		rec.TenantID,
		string(rec.Platform),
		blob,
		NullTime(rec.TokenExpiresAt),
		rec.ExternalAccountID,
		string(rec.Status),
		cfg,
		rec.LastError,
		rec.NeedsReconnect,
		NullTime(rec.LastRefreshedAt),
		rec.CreatedAt.UTC().Truncate(time.Microsecond),
		rec.UpdatedAt.UTC().Truncate(time.Microsecond),
	))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%s integration for tenant %s: %w", rec.Platform, rec.TenantID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("create integration: %w", err)
	}
	return created, nil
}

// Update applies u in a single statement and returns the stored record.
func (s *IntegrationStore) Update(ctx context.Context, id string, u domain.IntegrationUpdate) (*domain.Integration, error) {
	var blob []byte
	if u.Tokens != nil {
		var err error
		blob, err = s.encryptor.Seal(id, tokenSecrets{
			AccessToken:  u.Tokens.AccessToken,
			RefreshToken: u.Tokens.RefreshToken,
		})
		if err != nil {
			return nil, fmt.Errorf("encrypt tokens: %w", err)
		}
	}

	query, args, err := buildUpdate(id, u, blob)
	if err != nil {
		return nil, err
	}

	rec, err := s.scan(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("integration %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update integration: %w", err)
	}
	return rec, nil
}

// Ping checks the database connection.
func (s *IntegrationStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// buildUpdate renders a partial UPDATE for u. Platform config keys are
// merged with jsonb ||, and updated_at never moves backwards.
func buildUpdate(id string, u domain.IntegrationUpdate, tokenBlob []byte) (string, []any, error) {
	var (
		sets []string
		args []any
	)
	set := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if u.Tokens != nil {
		set("secret_blob = $%d", tokenBlob)
		set("token_expires_at = $%d", NullTime(u.Tokens.ExpiresAt))
	}
	if u.Status != nil {
		set("status = $%d", string(*u.Status))
	}
	if u.ExternalAccountID != nil {
		set("external_account_id = $%d", *u.ExternalAccountID)
	}
	if len(u.PlatformConfig) > 0 {
		cfg, err := marshalConfig(u.PlatformConfig)
		if err != nil {
			return "", nil, err
		}
		set("platform_config = platform_config || $%d::jsonb", cfg)
	}
	if u.LastError != nil {
		set("last_error = $%d", *u.LastError)
	}
	if u.NeedsReconnect != nil {
		set("needs_reconnect = $%d", *u.NeedsReconnect)
	}
	if u.LastRefreshedAt != nil {
		set("last_refreshed_at = $%d", u.LastRefreshedAt.UTC())
	}
	set("updated_at = GREATEST(updated_at + interval '1 microsecond', $%d)", u.UpdatedAt.UTC().Truncate(time.Microsecond))

	args = append(args, id)
	query := fmt.Sprintf(`
		UPDATE commerce_integrations
		SET %s
		WHERE id = $%d
		RETURNING`+integrationColumns, strings.Join(sets, ",\n\t\t    "), len(args))

	return query, args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *IntegrationStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.Integration, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*domain.Integration
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *IntegrationStore) scan(row rowScanner) (*domain.Integration, error) {
	var (
		rec             domain.Integration
		platform        string
		status          string
		blob            []byte
		cfg             []byte
		tokenExpiresAt  sql.NullTime
		lastRefreshedAt sql.NullTime
	)

	if err := row.Scan(
		&rec.ID,
		&rec.TenantID,
		&platform,
		&blob,
		&tokenExpiresAt,
		&rec.ExternalAccountID,
		&status,
		&cfg,
		&rec.LastError,
		&rec.NeedsReconnect,
		&lastRefreshedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rec.Platform = domain.Platform(platform)
	rec.Status = domain.IntegrationStatus(status)
	rec.TokenExpiresAt = TimePtr(tokenExpiresAt)
	rec.LastRefreshedAt = TimePtr(lastRefreshedAt)

	var secrets tokenSecrets
	if err := s.encryptor.Open(rec.ID, blob, &secrets); err != nil {
		return nil, fmt.Errorf("decrypt tokens for %s: %w", rec.ID, err)
	}
	rec.AccessToken = secrets.AccessToken
	rec.RefreshToken = secrets.RefreshToken

	rec.PlatformConfig = map[string]string{}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &rec.PlatformConfig); err != nil {
			return nil, fmt.Errorf("decode platform config: %w", err)
		}
	}

	return &rec, nil
}

func marshalConfig(cfg map[string]string) ([]byte, error) {
	if cfg == nil {
		cfg = map[string]string{}
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode platform config: %w", err)
	}
	return b, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
