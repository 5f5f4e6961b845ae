package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
)

func TestBuildUpdate(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 123456789, time.UTC)
	expiry := now.Add(time.Hour)
	status := domain.StatusConnected
	reconnect := false

	t.Run("full update", func(t *testing.T) {
		query, args, err := buildUpdate("rec-1", domain.IntegrationUpdate{
			Tokens:         &domain.TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresAt: &expiry},
			Status:         &status,
			PlatformConfig: map[string]string{"merchant_id": "42"},
			NeedsReconnect: &reconnect,
			UpdatedAt:      now,
		}, []byte("blob"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		for _, want := range []string{
			"secret_blob = $1",
			"token_expires_at = $2",
			"status = $3",
			"platform_config = platform_config || $4::jsonb",
			"needs_reconnect = $5",
			"updated_at = GREATEST(updated_at + interval '1 microsecond', $6)",
			"WHERE id = $7",
			"RETURNING",
		} {
			if !strings.Contains(query, want) {
				t.Errorf("query missing %q:\n%s", want, query)
			}
		}

		if len(args) != 7 {
			t.Fatalf("expected 7 args, got %d", len(args))
		}
		if string(args[3].([]byte)) != `{"merchant_id":"42"}` {
			t.Errorf("unexpected config arg %s", args[3])
		}
		if got := args[5].(time.Time); got.Nanosecond()%1000 != 0 {
			t.Errorf("expected updated_at truncated to microseconds, got %v", got)
		}
		if args[6] != "rec-1" {
			t.Errorf("expected id as last arg, got %v", args[6])
		}
	})

	t.Run("updated_at only", func(t *testing.T) {
		query, args, err := buildUpdate("rec-2", domain.IntegrationUpdate{UpdatedAt: now}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(query, "secret_blob") || strings.Contains(query, "platform_config") {
			t.Errorf("unexpected columns in query:\n%s", query)
		}
		if len(args) != 2 {
			t.Errorf("expected 2 args, got %d", len(args))
		}
	})
}

func TestHashLockName(t *testing.T) {
	if hashLockName("refresh-sweep") != hashLockName("refresh-sweep") {
		t.Error("expected stable hash")
	}
	if hashLockName("refresh-sweep") == hashLockName("other") {
		t.Error("expected different names to hash differently")
	}
}

// openTestDB connects to TEST_DATABASE_URL or skips.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Connect(ctx, DefaultConfig(url))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	if _, err := db.ExecContext(ctx, "TRUNCATE commerce_integrations"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}

func TestIntegrationStore_Postgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	enc, err := NewSecretEncryptorFromSecret("test secret")
	if err != nil {
		t.Fatalf("encryptor: %v", err)
	}
	store := NewIntegrationStore(db.DB, enc)

	now := time.Now().UTC().Truncate(time.Microsecond)
	soon := now.Add(5 * time.Minute)
	rec := domain.NewConnectedIntegration("tenant-a", domain.PlatformGoogle,
		domain.TokenSet{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: &soon}, "shop@example.com", now)

	created, err := store.Create(ctx, rec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.AccessToken != "a1" || created.RefreshToken != "r1" {
		t.Errorf("unexpected tokens after create: %+v", created)
	}

	var raw []byte
	if err := db.QueryRowContext(ctx, "SELECT secret_blob FROM commerce_integrations WHERE id = $1", rec.ID).Scan(&raw); err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if strings.Contains(string(raw), "a1") && strings.Contains(string(raw), "r1") {
		t.Error("tokens stored in plaintext")
	}

	dup := domain.NewConnectedIntegration("tenant-a", domain.PlatformGoogle, domain.TokenSet{AccessToken: "x"}, "", now)
	if _, err := store.Create(ctx, dup); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	found, err := store.FindByTenantAndPlatform(ctx, "tenant-a", domain.PlatformGoogle)
	if err != nil || found == nil || found.ID != rec.ID {
		t.Fatalf("find: %v %+v", err, found)
	}
	missing, err := store.FindByTenantAndPlatform(ctx, "tenant-a", domain.PlatformMeta)
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing pair, got %+v %v", missing, err)
	}

	expiring, err := store.FindExpiring(ctx, now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("find expiring: %v", err)
	}
	if len(expiring) != 1 {
		t.Fatalf("expected 1 expiring record, got %d", len(expiring))
	}

	if _, err := store.Update(ctx, rec.ID, found.ConfigUpdate(map[string]string{"merchant_id": "1", "region": "eu"}, now)); err != nil {
		t.Fatalf("config update: %v", err)
	}
	later := now.Add(time.Hour)
	updated, err := store.Update(ctx, rec.ID, found.RefreshedUpdate(domain.TokenSet{AccessToken: "a2", ExpiresAt: &later}, now))
	if err != nil {
		t.Fatalf("refresh update: %v", err)
	}
	if updated.AccessToken != "a2" || updated.RefreshToken != "r1" {
		t.Errorf("unexpected tokens after refresh: %+v", updated)
	}
	if updated.PlatformConfig["region"] != "eu" {
		t.Errorf("expected config kept across updates, got %v", updated.PlatformConfig)
	}
	if !updated.UpdatedAt.After(found.UpdatedAt) {
		t.Errorf("expected updated_at to advance: %v -> %v", found.UpdatedAt, updated.UpdatedAt)
	}

	failed, err := store.Update(ctx, rec.ID, updated.RefreshFailedUpdate("invalid_grant", true, now))
	if err != nil {
		t.Fatalf("failure update: %v", err)
	}
	if !failed.NeedsReconnect || failed.Status != domain.StatusError {
		t.Errorf("unexpected failure state %+v", failed)
	}
	expiring, err = store.FindExpiring(ctx, later.Add(time.Hour))
	if err != nil {
		t.Fatalf("find expiring: %v", err)
	}
	if len(expiring) != 0 {
		t.Errorf("expected terminal record excluded, got %d", len(expiring))
	}

	if _, err := store.Update(ctx, "00000000-0000-0000-0000-000000000000", domain.IntegrationUpdate{UpdatedAt: now}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAdvisoryLock_Postgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	l1 := NewAdvisoryLock(db.DB)
	l2 := NewAdvisoryLock(db.DB)

	ok, err := l1.Acquire(ctx, "refresh-sweep", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	ok, err = l2.Acquire(ctx, "refresh-sweep", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire should fail: %v %v", ok, err)
	}
	if err := l1.Extend(ctx, "refresh-sweep", time.Minute); err != nil {
		t.Errorf("extend: %v", err)
	}
	if err := l1.Release(ctx, "refresh-sweep"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = l2.Acquire(ctx, "refresh-sweep", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: %v %v", ok, err)
	}
	_ = l2.Release(ctx, "refresh-sweep")
}
