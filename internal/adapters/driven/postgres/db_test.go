package postgres

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestConfig_WithDefaults(t *testing.T) {
	got := Config{URL: "postgres://x", MaxOpenConns: 2, MaxIdleConns: 8}.withDefaults()

	if got.MaxOpenConns != 2 {
		t.Errorf("expected MaxOpenConns 2 kept, got %d", got.MaxOpenConns)
	}
	if got.MaxIdleConns != 2 {
		t.Errorf("expected MaxIdleConns capped at 2, got %d", got.MaxIdleConns)
	}
	if got.ConnMaxLifetime != 5*time.Minute || got.ConnMaxIdleTime != time.Minute {
		t.Errorf("unexpected lifetimes %v / %v", got.ConnMaxLifetime, got.ConnMaxIdleTime)
	}
	if got.ConnectTimeout != 10*time.Second {
		t.Errorf("expected 10s connect timeout, got %v", got.ConnectTimeout)
	}
	if got.URL != "postgres://x" {
		t.Errorf("URL changed: %q", got.URL)
	}
}

func TestConnect_RequiresURL(t *testing.T) {
	if _, err := Connect(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestInitSchema_Concurrent(t *testing.T) {
	db := openTestDB(t)

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error { return db.InitSchema(context.Background()) })
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent InitSchema: %v", err)
	}
}
