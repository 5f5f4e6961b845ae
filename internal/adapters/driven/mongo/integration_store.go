package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

// Ensure IntegrationStore implements the interface.
var _ driven.IntegrationStore = (*IntegrationStore)(nil)

// CollectionName is the collection holding integration documents.
const CollectionName = "catalog_integrations"

// TokenCipher seals credentials for one record. postgres.SecretEncryptor
// satisfies it.
type TokenCipher interface {
	Seal(recordID string, value any) ([]byte, error)
	Open(recordID string, blob []byte, value any) error
}

type tokenSecrets struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type integrationDoc struct {
	ID                string            `bson:"_id"`
	TenantID          string            `bson:"tenant_id"`
	Platform          string            `bson:"platform"`
	SecretBlob        []byte            `bson:"secret_blob"`
	TokenExpiresAt    *time.Time        `bson:"token_expires_at"`
	ExternalAccountID string            `bson:"external_account_id"`
	Status            string            `bson:"status"`
	PlatformConfig    map[string]string `bson:"platform_config"`
	LastError         string            `bson:"last_error"`
	NeedsReconnect    bool              `bson:"needs_reconnect"`
	LastRefreshedAt   *time.Time        `bson:"last_refreshed_at,omitempty"`
	CreatedAt         time.Time         `bson:"created_at"`
	UpdatedAt         time.Time         `bson:"updated_at"`
}

// IntegrationStore implements driven.IntegrationStore on MongoDB.
type IntegrationStore struct {
	coll   *mongo.Collection
	cipher TokenCipher
}

// NewIntegrationStore creates a store on db's catalog_integrations collection.
func NewIntegrationStore(db *mongo.Database, cipher TokenCipher) *IntegrationStore {
	return &IntegrationStore{
		coll:   db.Collection(CollectionName),
		cipher: cipher,
	}
}

// Connect opens a client for uri and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the unique (tenant_id, platform) index and the
// lookup indexes used by listing and sweeps. Safe to call repeatedly.
func (s *IntegrationStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "platform", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("tenant_platform_unique"),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("tenant_status"),
		},
		{
			Keys:    bson.D{{Key: "token_expires_at", Value: 1}},
			Options: options.Index().SetName("token_expires_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// FindByTenantAndPlatform returns nil, nil when the pair has no record.
func (s *IntegrationStore) FindByTenantAndPlatform(ctx context.Context, tenantID string, platform domain.Platform) (*domain.Integration, error) {
	var doc integrationDoc
	err := s.coll.FindOne(ctx, bson.M{"tenant_id": tenantID, "platform": string(platform)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", err)
	}
	return s.fromDoc(&doc)
}

// FindByTenantID returns every record of a tenant ordered by platform.
func (s *IntegrationStore) FindByTenantID(ctx context.Context, tenantID string) ([]*domain.Integration, error) {
	opts := options.Find().SetSort(bson.D{{Key: "platform", Value: 1}})
	return s.find(ctx, "list integrations", bson.M{"tenant_id": tenantID}, opts)
}

// FindExpiring returns refreshable records whose token expires before cutoff.
func (s *IntegrationStore) FindExpiring(ctx context.Context, cutoff time.Time) ([]*domain.Integration, error) {
	opts := options.Find().SetSort(bson.D{{Key: "token_expires_at", Value: 1}})
	return s.find(ctx, "find expiring integrations", expiringFilter(cutoff), opts)
}

func expiringFilter(cutoff time.Time) bson.M {
	return bson.M{
		"token_expires_at": bson.M{"$ne": nil, "$lt": cutoff.UTC()},
		"needs_reconnect":  false,
		"status": bson.M{"$in": bson.A{
			string(domain.StatusConnected),
			string(domain.StatusError),
		}},
	}
}

// Create inserts a new record. The unique index turns a second record for
// the pair into domain.ErrAlreadyExists.
func (s *IntegrationStore) Create(ctx context.Context, rec *domain.Integration) (*domain.Integration, error) {
	doc, err := s.toDoc(rec)
	if err != nil {
		return nil, err
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%s integration for tenant %s: %w", rec.Platform, rec.TenantID, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create integration: %w", err)
	}
	return s.fromDoc(doc)
}

// Update applies u with a single findAndModify and returns the new document.
func (s *IntegrationStore) Update(ctx context.Context, id string, u domain.IntegrationUpdate) (*domain.Integration, error) {
	var blob []byte
	if u.Tokens != nil {
		var err error
		blob, err = s.cipher.Seal(id, tokenSecrets{
			AccessToken:  u.Tokens.AccessToken,
			RefreshToken: u.Tokens.RefreshToken,
		})
		if err != nil {
			return nil, fmt.Errorf("encrypt tokens: %w", err)
		}
	}

	update, err := buildUpdate(u, blob)
	if err != nil {
		return nil, err
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc integrationDoc
	err = s.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("integration %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update integration: %w", err)
	}
	return s.fromDoc(&doc)
}

// Ping checks the server behind the collection.
func (s *IntegrationStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, readpref.Primary())
}

// buildUpdate renders u as update operators. Config keys are set one by one
// under platform_config so existing keys survive. updated_at uses $max and
// is rounded up to the millisecond BSON dates can hold.
func buildUpdate(u domain.IntegrationUpdate, tokenBlob []byte) (bson.M, error) {
	set := bson.M{}
	if u.Tokens != nil {
		set["secret_blob"] = tokenBlob
		set["token_expires_at"] = utcPtr(u.Tokens.ExpiresAt)
	}
	if u.Status != nil {
		set["status"] = string(*u.Status)
	}
	if u.ExternalAccountID != nil {
		set["external_account_id"] = *u.ExternalAccountID
	}
	for k, v := range u.PlatformConfig {
		if k == "" || strings.ContainsAny(k, ".$") {
			return nil, fmt.Errorf("platform config key %q: %w", k, domain.ErrInvalidInput)
		}
		set["platform_config."+k] = v
	}
	if u.LastError != nil {
		set["last_error"] = *u.LastError
	}
	if u.NeedsReconnect != nil {
		set["needs_reconnect"] = *u.NeedsReconnect
	}
	if u.LastRefreshedAt != nil {
		set["last_refreshed_at"] = u.LastRefreshedAt.UTC()
	}

	update := bson.M{"$max": bson.M{"updated_at": ceilMillis(u.UpdatedAt)}}
	if len(set) > 0 {
		update["$set"] = set
	}
	return update, nil
}

func ceilMillis(t time.Time) time.Time {
	t = t.UTC()
	if r := t.Truncate(time.Millisecond); !r.Equal(t) {
		return r.Add(time.Millisecond)
	}
	return t
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *IntegrationStore) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]*domain.Integration, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = cur.Close(ctx)
	}()

	var out []*domain.Integration
	for cur.Next(ctx) {
		var doc integrationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", op, err)
		}
		rec, err := s.fromDoc(&doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *IntegrationStore) toDoc(rec *domain.Integration) (*integrationDoc, error) {
	blob, err := s.cipher.Seal(rec.ID, tokenSecrets{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("encrypt tokens: %w", err)
	}
	cfg := rec.PlatformConfig
	if cfg == nil {
		cfg = map[string]string{}
	}
	return &integrationDoc{
		ID:                rec.ID,
		TenantID:          rec.TenantID,
		Platform:          string(rec.Platform),
		SecretBlob:        blob,
		TokenExpiresAt:    utcPtr(rec.TokenExpiresAt),
		ExternalAccountID: rec.ExternalAccountID,
		Status:            string(rec.Status),
		PlatformConfig:    cfg,
		LastError:         rec.LastError,
		NeedsReconnect:    rec.NeedsReconnect,
		LastRefreshedAt:   utcPtr(rec.LastRefreshedAt),
		CreatedAt:         ceilMillis(rec.CreatedAt),
		UpdatedAt:         ceilMillis(rec.UpdatedAt),
	}, nil
}

func (s *IntegrationStore) fromDoc(doc *integrationDoc) (*domain.Integration, error) {
	var secrets tokenSecrets
	if err := s.cipher.Open(doc.ID, doc.SecretBlob, &secrets); err != nil {
		return nil, fmt.Errorf("decrypt tokens for %s: %w", doc.ID, err)
	}
	cfg := doc.PlatformConfig
	if cfg == nil {
		cfg = map[string]string{}
	}
	return &domain.Integration{
		ID:                doc.ID,
		TenantID:          doc.TenantID,
		Platform:          domain.Platform(doc.Platform),
		AccessToken:       secrets.AccessToken,
		RefreshToken:      secrets.RefreshToken,
		TokenExpiresAt:    utcPtr(doc.TokenExpiresAt),
		ExternalAccountID: doc.ExternalAccountID,
		Status:            domain.IntegrationStatus(doc.Status),
		PlatformConfig:    cfg,
		LastError:         doc.LastError,
		NeedsReconnect:    doc.NeedsReconnect,
		LastRefreshedAt:   utcPtr(doc.LastRefreshedAt),
		CreatedAt:         doc.CreatedAt.UTC(),
		UpdatedAt:         doc.UpdatedAt.UTC(),
	}, nil
}
